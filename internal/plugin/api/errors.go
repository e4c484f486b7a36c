package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle step during which a plugin error occurred
type Phase string

const (
	PhaseLoad       Phase = "load"
	PhaseActivate   Phase = "activate"
	PhaseDeactivate Phase = "deactivate"
	PhaseUnload     Phase = "unload"
	PhaseDispatch   Phase = "dispatch"
)

// ErrorKind classifies plugin errors
type ErrorKind string

const (
	KindManifest     ErrorKind = "manifest"
	KindLoad         ErrorKind = "load"
	KindRegistration ErrorKind = "registration"
	KindHook         ErrorKind = "hook"
	KindLifecycle    ErrorKind = "lifecycle"
)

// PluginError is an append-only record of a failure local to one plugin
type PluginError struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"pluginId"`
	Phase     Phase     `json:"phase"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// NewPluginError creates a PluginError stamped with a fresh id and time
func NewPluginError(pluginID string, phase Phase, kind ErrorKind, err error) PluginError {
	pe := PluginError{
		ID:        uuid.New().String(),
		PluginID:  pluginID,
		Phase:     phase,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
	if err != nil {
		pe.Message = err.Error()
	}
	return pe
}

func (e PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %s %s error: %s", e.PluginID, e.Phase, e.Kind, e.Message)
}

func (e PluginError) Unwrap() error {
	return e.Err
}
