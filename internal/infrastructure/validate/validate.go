package validate

import "strings"

// FieldError a single rejected input, Domain names the offending field
type FieldError struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

func NewFieldError(domain string, reason string) *FieldError {
	return &FieldError{domain, reason}
}

// Validator checks request payloads
type Validator interface {
	// Struct validates s against its `validate` tags, nil when s is valid
	Struct(s interface{}) []*FieldError
	// Empty reports varName as required when s is the zero value
	Empty(varName string, s interface{}) []*FieldError
}

// JoinReasons renders fields as "reason; reason"
func JoinReasons(fields []*FieldError) string {
	reasons := make([]string, 0, len(fields))
	for _, f := range fields {
		reasons = append(reasons, f.Reason)
	}
	return strings.Join(reasons, "; ")
}
