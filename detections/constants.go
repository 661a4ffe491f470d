package detections

const (
	StatusOK              = "OK"
	StatusAttentionNeeded = "Attention Needed"

	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	PolicyGraded = "graded"
	PolicyBinary = "binary"
)

// DefaultAbsenceKeywords mark a label as an empty shelf slot.
var DefaultAbsenceKeywords = []string{"missing", "empty", "gap", "hole", "vacant"}
