package models

import (
	"encoding/json"
	"time"
)

type Category string

const (
	CategoryProduct Category = "product"
	CategoryMissing Category = "missing"
)

// Prediction is one detection as returned by the inference service.
type Prediction struct {
	Label       string  `json:"class"`
	ClassID     int     `json:"class_id"`
	DetectionID string  `json:"detection_id,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Confidence  float64 `json:"confidence"`
}

// UnmarshalJSON decodes leniently: absent or mistyped fields fall back to
// their zero value so a single bad entry never fails the batch.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		*p = Prediction{Label: UnknownLabel}
		return nil
	}

	*p = Prediction{
		Label:       stringField(raw, "class", UnknownLabel),
		ClassID:     int(numberField(raw, "class_id")),
		DetectionID: stringField(raw, "detection_id", ""),
		X:           numberField(raw, "x"),
		Y:           numberField(raw, "y"),
		Width:       numberField(raw, "width"),
		Height:      numberField(raw, "height"),
		Confidence:  numberField(raw, "confidence"),
	}
	return nil
}

const UnknownLabel = "unknown"

func stringField(raw map[string]any, key, fallback string) string {
	if s, ok := raw[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func numberField(raw map[string]any, key string) float64 {
	if f, ok := raw[key].(float64); ok {
		return f
	}
	return 0
}

type ClassifiedDetection struct {
	Label      string   `json:"label"`
	Category   Category `json:"class"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Confidence float64  `json:"confidence"`
}

type Summary struct {
	TotalProductsDetected int `json:"total_products_detected"`
	TotalMissingDetected  int `json:"total_missing_detected"`
}

type BusinessMapping struct {
	RestockRequired bool   `json:"restock_required"`
	Severity        string `json:"severity"`
}

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Report struct {
	Status          string                `json:"status"`
	Summary         Summary               `json:"summary"`
	Details         []ClassifiedDetection `json:"details"`
	BusinessMapping BusinessMapping       `json:"business_mapping"`
	AnnotatedImage  string                `json:"annotated_image,omitempty"`
	Image           *ImageInfo            `json:"image,omitempty"`
	Model           string                `json:"model,omitempty"`
}

type ProcessingTimings struct {
	RequestID string
	Read      time.Duration
	Verify    time.Duration
	Wait      time.Duration
	Inference time.Duration
	Report    time.Duration
	Total     time.Duration
}
