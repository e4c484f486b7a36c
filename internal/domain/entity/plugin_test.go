package entity

import (
	"testing"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"plugin record", PluginRecord{}.TableName(), "plugin_records"},
		{"transition", PluginTransition{}.TableName(), "plugin_transitions"},
		{"error record", PluginErrorRecord{}.TableName(), "plugin_error_records"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("TableName() = %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestPluginRecord_IsActive(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{"active", true},
		{"loaded", false},
		{"inactive", false},
		{"unloaded", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := &PluginRecord{Status: tt.status}
			if got := p.IsActive(); got != tt.expected {
				t.Errorf("IsActive() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestModels(t *testing.T) {
	if got := len(Models()); got != 3 {
		t.Errorf("len(Models()) = %d, want 3", got)
	}
}
