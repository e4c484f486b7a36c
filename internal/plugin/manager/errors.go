package manager

import (
	"fmt"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	apperrors "github.com/jrjohn/arcana-plugin-runtime/pkg/errors"
)

const errFmtPluginNotFound = "plugin %s not found"

func notFound(id string) error {
	return apperrors.ErrPluginNotFound.WithMessagef(errFmtPluginNotFound, id)
}

func lifecycleError(id string, status api.Status, op string) error {
	return apperrors.ErrLifecycle.WithMessage(
		fmt.Sprintf("cannot %s plugin %s while it is %s", op, id, status),
	)
}

// callGuarded invokes plugin code, converting a panic into an error
func callGuarded(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("plugin code panicked: %v", r)
		}
	}()
	return fn()
}
