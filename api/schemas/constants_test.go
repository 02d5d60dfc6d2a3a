package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// TestConstants verifies that all defined constants hold their expected string values.
// These values end up in the database and on the wire.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		// Severities
		{"SeverityHigh", schemas.SeverityHigh, "high"},
		{"SeverityMedium", schemas.SeverityMedium, "medium"},
		{"SeverityLow", schemas.SeverityLow, "low"},
		{"SeverityInformational", schemas.SeverityInfo, "info"},

		// Element kinds
		{"ElementLink", schemas.ElementLink, "link"},
		{"ElementForm", schemas.ElementForm, "form"},
		{"ElementCookie", schemas.ElementCookie, "cookie"},
		{"ElementHeader", schemas.ElementHeader, "header"},
		{"ElementBody", schemas.ElementBody, "body"},
		{"ElementPath", schemas.ElementPath, "path"},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var actual string
			if stringer, ok := tt.constant.(fmt.Stringer); ok {
				actual = stringer.String()
			} else {
				actual = fmt.Sprintf("%v", tt.constant)
			}
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestSeverityRank(t *testing.T) {
	t.Parallel()
	assert.Greater(t, schemas.SeverityHigh.Rank(), schemas.SeverityMedium.Rank())
	assert.Greater(t, schemas.SeverityMedium.Rank(), schemas.SeverityLow.Rank())
	assert.Greater(t, schemas.SeverityLow.Rank(), schemas.SeverityInfo.Rank())
	assert.Equal(t, schemas.SeverityInfo.Rank(), schemas.Severity("bogus").Rank())
}

func TestParseElementKind(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]schemas.ElementKind{
		"link":    schemas.ElementLink,
		"Links":   schemas.ElementLink,
		" forms ": schemas.ElementForm,
		"COOKIES": schemas.ElementCookie,
		"headers": schemas.ElementHeader,
		"body":    schemas.ElementBody,
		"path":    schemas.ElementPath,
	} {
		got, err := schemas.ParseElementKind(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := schemas.ParseElementKind("json")
	assert.Error(t, err)
	assert.False(t, schemas.ElementKind("json").Valid())
}
