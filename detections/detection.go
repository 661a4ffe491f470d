package detections

import (
	"strings"

	"github.com/shelfsense/shelf-monitor/models"
)

// ReportBuilder turns raw predictions into a business report.
type ReportBuilder struct {
	keywords []string
	policy   SeverityPolicy
}

func NewReportBuilder(keywords []string, policy SeverityPolicy) *ReportBuilder {
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	if len(normalized) == 0 {
		normalized = DefaultAbsenceKeywords
	}

	if len(policy.Bands) == 0 && policy.Floor == "" {
		policy = GradedPolicy
	}

	return &ReportBuilder{
		keywords: normalized,
		policy:   policy,
	}
}

func (b *ReportBuilder) Policy() SeverityPolicy {
	return b.policy
}

func (b *ReportBuilder) Classify(label string) models.Category {
	l := strings.ToLower(label)
	for _, k := range b.keywords {
		if strings.Contains(l, k) {
			return models.CategoryMissing
		}
	}
	return models.CategoryProduct
}

// BuildReport classifies predictions in order and derives the verdict.
// annotatedURL is omitted from the report when empty.
func (b *ReportBuilder) BuildReport(predictions []models.Prediction, annotatedURL string) *models.Report {
	details := make([]models.ClassifiedDetection, 0, len(predictions))
	var products, missing int

	for _, p := range predictions {
		category := b.Classify(p.Label)
		if category == models.CategoryMissing {
			missing++
		} else {
			products++
		}

		details = append(details, models.ClassifiedDetection{
			Label:      p.Label,
			Category:   category,
			X:          p.X,
			Y:          p.Y,
			Width:      p.Width,
			Height:     p.Height,
			Confidence: p.Confidence,
		})
	}

	status := StatusOK
	if missing > 0 {
		status = StatusAttentionNeeded
	}

	return &models.Report{
		Status: status,
		Summary: models.Summary{
			TotalProductsDetected: products,
			TotalMissingDetected:  missing,
		},
		Details: details,
		BusinessMapping: models.BusinessMapping{
			RestockRequired: missing > 0,
			Severity:        b.policy.Severity(missing),
		},
		AnnotatedImage: annotatedURL,
	}
}
