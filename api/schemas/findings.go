package schemas

// -- Severity --

// Severity represents the severity level of an issue, ranging from high to
// informational. The values are lowercase to align with database ENUMs.
type Severity string

// Constants defining the standard severity levels for issues.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// Rank orders severities so higher means worse. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
