// Package pluginid derives and checks the identifiers plugins are keyed by.
package pluginid

import (
	"regexp"
	"strings"
)

// MaxLength is the longest identifier accepted
const MaxLength = 64

// Fallback is used when a name contains no usable characters
const Fallback = "plugin"

var (
	validPattern   = regexp.MustCompile(`^[a-z0-9_]+$`)
	invalidPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// Generate derives a plugin id from a display name. The result always
// satisfies IsValid and Generate(Generate(x)) == Generate(x).
func Generate(name string) string {
	id := invalidPattern.ReplaceAllString(strings.ToLower(name), "_")
	id = strings.Trim(id, "_")
	if len(id) > MaxLength {
		id = strings.TrimRight(id[:MaxLength], "_")
	}
	if id == "" {
		return Fallback
	}
	return id
}

// IsValid reports whether id is a well-formed plugin id
func IsValid(id string) bool {
	return len(id) <= MaxLength && validPattern.MatchString(id)
}
