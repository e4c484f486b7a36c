// Package manifest reads and validates plugin manifests.
package manifest

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pluginid"
)

const rootField = "(root)"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(Schema))
	if err != nil {
		panic(fmt.Sprintf("manifest schema does not compile: %v", err))
	}
	return schema
}

// Violation names one field that failed validation
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationResult is the outcome of Validate
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Fields returns the names of every violated field
func (r ValidationResult) Fields() []string {
	fields := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

// HasField reports whether field is among the violations
func (r ValidationResult) HasField(field string) bool {
	for _, v := range r.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

func (r ValidationResult) String() string {
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}

// Validate checks a raw parsed manifest. It has no side effects.
func Validate(raw map[string]any) ValidationResult {
	var result ValidationResult
	add := func(field, msg string) {
		for _, v := range result.Violations {
			if v.Field == field {
				return
			}
		}
		result.Violations = append(result.Violations, Violation{Field: field, Message: msg})
	}

	if raw == nil {
		add(rootField, "manifest must be an object")
		return result
	}

	schemaResult, err := compiledSchema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		add(rootField, err.Error())
		return result
	}
	for _, re := range schemaResult.Errors() {
		add(schemaField(re), re.Description())
	}

	if id, ok := raw["pluginId"].(string); ok && id != "" && !pluginid.IsValid(id) {
		add("pluginId", fmt.Sprintf("%q must match ^[a-z0-9_]+$ and be at most %d characters", id, pluginid.MaxLength))
	}
	if v, ok := raw["version"].(string); ok && v != "" {
		if _, err := semver.NewVersion(v); err != nil {
			add("version", fmt.Sprintf("%q is not a semantic version: %v", v, err))
		}
	}
	checkResolvers(raw, add)

	result.Valid = len(result.Violations) == 0
	return result
}

func schemaField(re gojsonschema.ResultError) string {
	field := re.Field()
	if re.Type() != "required" {
		return field
	}
	prop, ok := re.Details()["property"].(string)
	if !ok {
		return field
	}
	if field == rootField || field == "" {
		return prop
	}
	return field + "." + prop
}

// checkResolvers requires a resolver on every non-type GraphQL entry
func checkResolvers(raw map[string]any, add func(field, msg string)) {
	points, ok := raw["extensionPoints"].(map[string]any)
	if !ok {
		return
	}
	entries, ok := points["graphql"].([]any)
	if !ok {
		return
	}
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := entry["type"].(string); t == string(api.GraphQLObject) {
			continue
		}
		if r, _ := entry["resolver"].(string); r == "" {
			add(fmt.Sprintf("extensionPoints.graphql.%d.resolver", i), "resolver is required for query, mutation and subscription fields")
		}
	}
}
