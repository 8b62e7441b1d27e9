package utils

import "strings"

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

// StringPtrValue dereferences s, treating nil as "".
func StringPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// OptionalString returns nil for blank strings, a trimmed pointer otherwise.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
