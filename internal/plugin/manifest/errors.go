package manifest

import (
	"fmt"
	"strings"
)

// ErrorKind distinguishes the ways a manifest can fail to load
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindUnparsable ErrorKind = "unparsable"
	KindInvalid    ErrorKind = "invalid"
)

// LoadError reports why a plugin directory has no usable manifest
type LoadError struct {
	Kind       ErrorKind
	Path       string
	Violations []Violation
	Err        error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("manifest not found: %s", e.Path)
	case KindUnparsable:
		return fmt.Sprintf("manifest %s could not be parsed: %v", e.Path, e.Err)
	default:
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, v.String())
		}
		return fmt.Sprintf("manifest %s is invalid: %s", e.Path, strings.Join(parts, "; "))
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
