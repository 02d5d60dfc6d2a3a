package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// TestStructJSONTags uses reflection to verify that the `json` tags on struct fields
// are correct. Stored issue payloads depend on them.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "Issue",
			structRef: schemas.Issue{},
			expectedTags: map[string]string{
				"ID":           "id",
				"Digest":       "digest",
				"Check":        "check",
				"Name":         "name",
				"Severity":     "severity",
				"URL":          "url",
				"Elem":         "elem",
				"Var":          "var,omitempty",
				"Method":       "method,omitempty",
				"Injected":     "injected,omitempty",
				"Regexp":       "regexp,omitempty",
				"RegexpMatch":  "regexp_match,omitempty",
				"Platform":     "platform,omitempty",
				"Verification": "verification",
				"Remarks":      "remarks,omitempty",
				"Request":      "request",
				"Response":     "response",
				"ObservedAt":   "observed_at",
			},
		},
		{
			name:      "IssueResponse",
			structRef: schemas.IssueResponse{},
			expectedTags: map[string]string{
				"StatusCode": "status_code",
				"Headers":    "headers,omitempty",
				"Body":       "body,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tt.structRef)
			for fieldName, expectedTag := range tt.expectedTags {
				field, found := typ.FieldByName(fieldName)
				if assert.True(t, found, "Field %s not found in struct %s", fieldName, tt.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "Incorrect JSON tag for field %s in struct %s", fieldName, tt.name)
				}
			}
		})
	}
}
