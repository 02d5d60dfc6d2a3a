package schemas

import (
	"net/http"
	"time"
)

// Issue describes a single finding produced by a check. Issues are treated as
// immutable once they have been handed to RegisterResults.
type Issue struct {
	// ID is derived from the check name, the identity of the element the
	// finding belongs to and whatever distinguishes it from other findings on
	// that element (such as the matched text). Two issues with the same ID are
	// the same finding.
	ID string `json:"id"`

	// Digest is the provisioned id: check name plus element identity only. It
	// is what Skip looks up to learn whether an element is already proven
	// vulnerable by a check.
	Digest string `json:"digest"`

	// Check is the name of the check that produced the finding.
	Check    string   `json:"check"`
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`

	URL      string      `json:"url"`
	Elem     ElementKind `json:"elem"`
	Var      string      `json:"var,omitempty"`
	Method   string      `json:"method,omitempty"`
	Injected string      `json:"injected,omitempty"`

	// Regexp and RegexpMatch record the pattern that matched and what it
	// matched, when the finding came from pattern analysis.
	Regexp      string `json:"regexp,omitempty"`
	RegexpMatch string `json:"regexp_match,omitempty"`

	Platform     string `json:"platform,omitempty"`
	Verification bool   `json:"verification"`

	Remarks map[string][]string `json:"remarks,omitempty"`

	Request  IssueRequest  `json:"request"`
	Response IssueResponse `json:"response"`

	ObservedAt time.Time `json:"observed_at"`
}

// IssueRequest is the evidence captured from the request that triggered a finding.
type IssueRequest struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers http.Header `json:"headers,omitempty"`
	Body    string      `json:"body,omitempty"`
}

// IssueResponse is the evidence captured from the response that proved a finding.
type IssueResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       string      `json:"body,omitempty"`
}

// AddRemark appends a free-text remark under the given author.
func (i *Issue) AddRemark(author, remark string) {
	if remark == "" {
		return
	}
	if i.Remarks == nil {
		i.Remarks = make(map[string][]string)
	}
	i.Remarks[author] = append(i.Remarks[author], remark)
}

// IssueData is the plain structured form of an Issue used for cross-process transport.
type IssueData map[string]interface{}

// ToRPC converts the issue to its plain structured form.
func (i Issue) ToRPC() (IssueData, error) {
	raw, err := Marshal(i)
	if err != nil {
		return nil, err
	}
	var data IssueData
	if err := Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// IssueFromRPC reconstructs an Issue from its plain structured form.
func IssueFromRPC(data IssueData) (Issue, error) {
	var issue Issue
	raw, err := Marshal(data)
	if err != nil {
		return issue, err
	}
	err = Unmarshal(raw, &issue)
	return issue, err
}
