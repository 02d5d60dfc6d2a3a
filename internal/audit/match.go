package audit

import (
	"context"
	"net/http"
	"regexp"
	"sort"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// VerifyFunc may reject a textual match before it is logged.
type VerifyFunc func(match string) bool

// MatchOptions tune MatchAndLog.
type MatchOptions struct {
	// Text is matched instead of the page body when set. Response headers are
	// only searched when matching the page body.
	Text   string
	Verify VerifyFunc
}

// MatchAndLog runs every pattern against the text and logs one issue per
// unique non-empty match of each pattern. It returns how many issues were
// logged.
func (a *Auditor) MatchAndLog(ctx context.Context, patterns []*regexp.Regexp, opts MatchOptions) int {
	evidence := &network.Response{
		URL:        a.page.URL(),
		StatusCode: a.page.StatusCode(),
		Headers:    a.page.ResponseHeaders(),
		Body:       a.page.Body(),
	}

	var issues []schemas.Issue
	if opts.Text != "" {
		el := element.New(schemas.ElementBody, a.page.URL(), "", element.Input{Name: "body", Value: opts.Text})
		issues = a.matchText(patterns, opts.Verify, el, opts.Text, evidence)
	} else {
		el := a.bodyElement()
		issues = a.matchText(patterns, opts.Verify, el, a.page.Body(), evidence)
		issues = append(issues, a.matchHeaders(patterns, opts.Verify, evidence)...)
	}

	a.log(ctx, issues...)
	return len(issues)
}

func (a *Auditor) matchText(patterns []*regexp.Regexp, verify VerifyFunc, el *element.Element, text string, evidence *network.Response) []schemas.Issue {
	var issues []schemas.Issue
	for _, rx := range patterns {
		seen := make(map[string]struct{})
		for _, m := range rx.FindAllString(text, -1) {
			if m == "" {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			if verify != nil && !verify(m) {
				continue
			}

			issue := a.NewIssue(el, evidence, rx.String(), m)
			issue.Regexp = rx.String()
			issue.RegexpMatch = m
			issues = append(issues, issue)
		}
	}
	return issues
}

func (a *Auditor) matchHeaders(patterns []*regexp.Regexp, verify VerifyFunc, evidence *network.Response) []schemas.Issue {
	headers := a.page.ResponseHeaders()
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []schemas.Issue
	for _, name := range names {
		for _, value := range headers[name] {
			el := element.New(schemas.ElementHeader, a.page.URL(), http.MethodGet, element.Input{Name: name, Value: value})
			el.Altered = name
			issues = append(issues, a.matchText(patterns, verify, el, value, evidence)...)
		}
	}
	return issues
}
