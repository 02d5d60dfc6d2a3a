package differential

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

// Placeholders substituted for data that changes between identical requests.
const (
	PlaceholderDynamicKey   = "__DYNAMIC_KEY__"
	PlaceholderDynamicValue = "__DYNAMIC_VALUE__"
)

// Rules identify data that differs between two otherwise identical responses.
type Rules struct {
	// KeyPatterns match JSON object keys whose values are always dynamic.
	KeyPatterns      []*regexp.Regexp
	TimestampFormats []string
	// EntropyThreshold is the Shannon entropy above which a token is treated
	// as random, such as a CSRF token.
	EntropyThreshold float64
}

// DefaultRules covers session identifiers, tokens, UUIDs and timestamps.
func DefaultRules() Rules {
	return Rules{
		KeyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)sess(ion)?_?(id|key|token)?`),
			regexp.MustCompile(`(?i)(api|access|refresh|auth)_?token$`),
			regexp.MustCompile(`(?i)^(csrf|xsrf)`),
			regexp.MustCompile(`(?i)nonce`),
			regexp.MustCompile(`(?i)(correlation|request|trace|tracking)_?id`),
		},
		TimestampFormats: []string{time.RFC3339, time.RFC3339Nano, time.RFC822, "2006-01-02T15:04:05.000Z"},
		EntropyThreshold: 4.5,
	}
}

// Comparator decides whether two response bodies are equivalent once
// dynamic data and echoed input values are discounted.
type Comparator struct {
	rules Rules
}

// NewComparator creates a comparator using rules.
func NewComparator(rules Rules) *Comparator {
	return &Comparator{rules: rules}
}

// Equivalent reports whether a and b carry the same content. Every string in
// strip is removed from both bodies first, since an input echoed back by the
// page says nothing about how the input was processed.
func (c *Comparator) Equivalent(a, b string, strip ...string) bool {
	for _, s := range strip {
		if s == "" {
			continue
		}
		a = strings.ReplaceAll(a, s, "")
		b = strings.ReplaceAll(b, s, "")
	}
	if a == b {
		return true
	}

	dataA, errA := decodeJSON(a)
	dataB, errB := decodeJSON(b)
	if errA == nil && errB == nil {
		return cmp.Equal(c.normalize(dataA), c.normalize(dataB),
			cmpopts.EquateEmpty(),
			cmpopts.SortSlices(func(x, y interface{}) bool { return stringify(x) < stringify(y) }),
		)
	}
	if (errA == nil) != (errB == nil) {
		return false
	}
	return cmp.Equal(c.tokens(a), c.tokens(b))
}

func decodeJSON(s string) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Comparator) normalize(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		var dynamic []interface{}
		for key, val := range v {
			if c.isKeyDynamic(key) {
				dynamic = append(dynamic, PlaceholderDynamicValue)
				continue
			}
			out[key] = c.normalize(val)
		}
		if len(dynamic) > 0 {
			out[PlaceholderDynamicKey] = dynamic
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = c.normalize(val)
		}
		return out
	case string:
		if c.isTokenDynamic(v) {
			return PlaceholderDynamicValue
		}
		return v
	case json.Number:
		if c.isTokenDynamic(v.String()) {
			return PlaceholderDynamicValue
		}
		if f, err := v.Float64(); err == nil && isPlausibleUnixTimestamp(f) {
			return PlaceholderDynamicValue
		}
		return v.String()
	default:
		return v
	}
}

// tokens splits a non-JSON body into words with dynamic tokens replaced.
func (c *Comparator) tokens(body string) []string {
	fields := strings.Fields(body)
	for i, f := range fields {
		if c.isTokenDynamic(f) {
			fields[i] = PlaceholderDynamicValue
		}
	}
	return fields
}

func (c *Comparator) isKeyDynamic(key string) bool {
	for _, rx := range c.rules.KeyPatterns {
		if rx.MatchString(key) {
			return true
		}
	}
	return false
}

func (c *Comparator) isTokenDynamic(s string) bool {
	if len(s) < 8 {
		return false
	}
	if _, err := uuid.Parse(strings.Trim(s, `"'<>`)); err == nil {
		return true
	}
	for _, layout := range c.rules.TimestampFormats {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return c.rules.EntropyThreshold > 0 && len(s) >= 12 && shannonEntropy(s) > c.rules.EntropyThreshold
}

func shannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(utf8.RuneCountInString(s))
	var entropy float64
	for _, count := range counts {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// isPlausibleUnixTimestamp accepts seconds, milliseconds and microseconds
// between 2010 and 2035.
func isPlausibleUnixTimestamp(ts float64) bool {
	const minTimestamp = 1262304000
	const maxTimestamp = 2051222400
	return (ts >= minTimestamp && ts <= maxTimestamp) ||
		(ts >= minTimestamp*1000 && ts <= maxTimestamp*1000) ||
		(ts >= minTimestamp*1000000 && ts <= maxTimestamp*1000000)
}

func stringify(v interface{}) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
