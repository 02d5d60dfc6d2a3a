package results

import (
	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// Report is the aggregated result of a scan.
type Report struct {
	ScanID  string          `json:"scan_id"`
	Issues  []schemas.Issue `json:"issues"`
	Summary map[string]int  `json:"summary"`
}

// NewReport builds a report from the registry's issues.
func (r *Registry) NewReport() *Report {
	return NewReport(r.scanID, r.Issues())
}

// NewReport builds a report over issues, most severe first. issues is
// reordered in place.
func NewReport(scanID string, issues []schemas.Issue) *Report {
	Prioritize(issues)
	summary := map[string]int{"total": len(issues)}
	for _, issue := range issues {
		summary[string(issue.Severity)]++
	}
	return &Report{ScanID: scanID, Issues: issues, Summary: summary}
}

// ToJSON serializes the report.
func (rep *Report) ToJSON() ([]byte, error) {
	return schemas.Marshal(rep)
}
