package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/shelfsense/shelf-monitor/detections"
	"github.com/shelfsense/shelf-monitor/inference"
	"github.com/shelfsense/shelf-monitor/models"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Formats as reported by image.DecodeConfig.
var allowedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
}

// MaxImagePixels bounds the declared width*height of an upload.
const MaxImagePixels = 40_000_000

type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindUpstream     ErrorKind = "upstream_failure"
	KindBusy         ErrorKind = "busy"
)

type AnalysisError struct {
	Kind           ErrorKind
	Message        string
	UpstreamStatus int
	Cause          error
}

func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

func (e *AnalysisError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (e *AnalysisError) outcome() string {
	switch e.Kind {
	case KindInvalidInput:
		return OutcomeInvalidInput
	case KindBusy:
		return OutcomeBusy
	default:
		return OutcomeUpstream
	}
}

func invalidInput(msg string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindInvalidInput, Message: msg, Cause: cause}
}

// Detector is the inference service as seen by the analyzer.
type Detector interface {
	Detect(ctx context.Context, req inference.Request) (*inference.Result, error)
}

type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	// Confidence overrides the configured default when set.
	Confidence *float64
}

type Analyzer struct {
	detector          Detector
	builder           *detections.ReportBuilder
	pool              *UpstreamPool
	metrics           *Metrics
	logger            *slog.Logger
	model             string
	confidenceDefault float64
	verifyImage       bool
	maxPixels         int
}

type AnalyzerConfig struct {
	Model             string
	ConfidenceDefault float64
	VerifyImage       bool
	// MaxPixels defaults to MaxImagePixels when zero.
	MaxPixels int
}

func NewAnalyzer(detector Detector, builder *detections.ReportBuilder, pool *UpstreamPool,
	metrics *Metrics, logger *slog.Logger, cfg AnalyzerConfig) *Analyzer {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = MaxImagePixels
	}
	return &Analyzer{
		detector:          detector,
		builder:           builder,
		pool:              pool,
		metrics:           metrics,
		logger:            logger,
		model:             cfg.Model,
		confidenceDefault: cfg.ConfidenceDefault,
		verifyImage:       cfg.VerifyImage,
		maxPixels:         cfg.MaxPixels,
	}
}

// Analyze validates one upload, sends it for inference and builds the report.
// Invalid input is rejected before any call to the inference service.
func (a *Analyzer) Analyze(ctx context.Context, up Upload, timings *models.ProcessingTimings) (*models.Report, error) {
	report, err := a.analyze(ctx, up, timings)
	if err != nil {
		var aerr *AnalysisError
		if errors.As(err, &aerr) {
			a.metrics.RecordOutcome(aerr.outcome())
		}
		return nil, err
	}

	a.metrics.RecordOutcome(OutcomeSuccess)
	a.metrics.RecordReport(report)
	return report, nil
}

func (a *Analyzer) analyze(ctx context.Context, up Upload, timings *models.ProcessingTimings) (*models.Report, error) {
	if err := checkContentType(up.ContentType); err != nil {
		return nil, err
	}
	if len(up.Data) == 0 {
		return nil, invalidInput(MsgNoFile, nil)
	}

	confidence := a.confidenceDefault
	if up.Confidence != nil {
		confidence = *up.Confidence
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, invalidInput(MsgInvalidConfidence, nil)
	}

	var info *models.ImageInfo
	if a.verifyImage {
		verifyStart := time.Now()
		var err error
		info, err = a.verify(up.Data)
		timings.Verify = time.Since(verifyStart)
		if err != nil {
			return nil, err
		}
	}

	return a.infer(ctx, up, confidence, info, timings)
}

// verify reads only the image header, so a forged size cannot force a large
// allocation.
func (a *Analyzer) verify(data []byte) (*models.ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, invalidInput(MsgUndecodableImage, err)
	}
	if !allowedFormats[format] {
		return nil, invalidInput(MsgInvalidContentType, fmt.Errorf("decoded format %q", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(a.maxPixels) {
		return nil, invalidInput(MsgImageTooLarge, fmt.Errorf("%dx%d", cfg.Width, cfg.Height))
	}
	return &models.ImageInfo{Width: cfg.Width, Height: cfg.Height}, nil
}

func (a *Analyzer) infer(ctx context.Context, up Upload, confidence float64,
	info *models.ImageInfo, timings *models.ProcessingTimings) (*models.Report, error) {
	waitStart := time.Now()
	if err := a.pool.Acquire(ctx); err != nil {
		timings.Wait = time.Since(waitStart)
		return nil, &AnalysisError{Kind: KindBusy, Message: MsgBusy, Cause: err}
	}
	timings.Wait = time.Since(waitStart)

	a.logger.Info("processing image",
		"request_id", timings.RequestID,
		"filename", up.Filename,
		"bytes", len(up.Data),
		"confidence", confidence,
	)

	inferStart := time.Now()
	result, err := a.detector.Detect(ctx, inference.Request{
		Image:       up.Data,
		Filename:    up.Filename,
		ContentType: up.ContentType,
		Confidence:  confidence,
	})
	a.pool.Release()
	timings.Inference = time.Since(inferStart)
	a.metrics.RecordUpstream(timings.Inference.Seconds())

	if err != nil {
		return nil, upstreamFailure(err)
	}

	a.logger.Info("inference service returned predictions",
		"request_id", timings.RequestID,
		"predictions", len(result.Predictions),
	)

	reportStart := time.Now()
	report := a.builder.BuildReport(result.Predictions, result.AnnotatedImage)
	report.Model = a.model
	if info == nil && result.ImageWidth > 0 && result.ImageHeight > 0 {
		info = &models.ImageInfo{Width: result.ImageWidth, Height: result.ImageHeight}
	}
	report.Image = info
	timings.Report = time.Since(reportStart)

	a.logger.Info("analysis complete",
		"request_id", timings.RequestID,
		"products", report.Summary.TotalProductsDetected,
		"missing", report.Summary.TotalMissingDetected,
		"severity", report.BusinessMapping.Severity,
	)

	return report, nil
}

func checkContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedContentTypes[strings.ToLower(mediaType)] {
		return invalidInput(MsgInvalidContentType, err)
	}
	return nil
}

func upstreamFailure(err error) *AnalysisError {
	aerr := &AnalysisError{Kind: KindUpstream, Message: MsgUpstreamFailure, Cause: err}

	var upErr *inference.UpstreamError
	if errors.As(err, &upErr) {
		aerr.UpstreamStatus = upErr.StatusCode
		if upErr.Timeout {
			aerr.Message = MsgUpstreamTimeout
		}
	}
	return aerr
}
