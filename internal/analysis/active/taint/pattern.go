// Package taint implements pattern (taint) analysis: payloads are injected
// into every input of an element and the response is searched for evidence
// that they reached it.
package taint

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
)

// PatternAnalyzer submits each payload into each input and matches the
// configured patterns against the response body. Without patterns the
// payload itself is looked for.
type PatternAnalyzer struct {
	patterns []*regexp.Regexp
}

// NewPatternAnalyzer creates an analyzer matching patterns.
func NewPatternAnalyzer(patterns ...*regexp.Regexp) *PatternAnalyzer {
	return &PatternAnalyzer{patterns: patterns}
}

// Analyze implements core.Primitive. At most one issue is logged per input
// and unique matched string.
func (p *PatternAnalyzer) Analyze(ctx context.Context, env core.Env, el *element.Element, in core.Input) error {
	logger := env.Logger().With(zap.String("element", el.ID()))
	seen := make(map[string]struct{})

	for _, payload := range in.Payloads {
		for _, mutation := range el.Mutations(payload) {
			if err := ctx.Err(); err != nil {
				return err
			}

			resp, err := env.Submit(ctx, mutation)
			if err != nil {
				logger.Debug("Mutation could not be submitted.", zap.String("input", mutation.Altered), zap.Error(err))
				continue
			}

			for _, m := range p.match(resp.Body, payload) {
				key := mutation.Altered + "\x00" + m.match
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				issue := env.NewIssue(mutation, resp, mutation.Altered, m.match)
				issue.Regexp = m.pattern
				issue.RegexpMatch = m.match
				env.Log(ctx, issue)
			}
		}
	}
	return nil
}

type patternMatch struct {
	pattern string
	match   string
}

// match returns the unique non-empty matches in body.
func (p *PatternAnalyzer) match(body, payload string) []patternMatch {
	patterns := p.patterns
	if len(patterns) == 0 {
		if payload == "" {
			return nil
		}
		patterns = []*regexp.Regexp{regexp.MustCompile(regexp.QuoteMeta(payload))}
	}

	var out []patternMatch
	seen := make(map[string]struct{})
	for _, rx := range patterns {
		for _, m := range rx.FindAllString(body, -1) {
			if m == "" {
				continue
			}
			key := rx.String() + "\x00" + m
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, patternMatch{pattern: rx.String(), match: m})
		}
	}
	return out
}
