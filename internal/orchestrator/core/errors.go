package core

import (
	"fmt"

	"github.com/nemanja-m/cxehelper/internal/timerange"
)

// WindowError is a failure of one (window, kind) job at a given stage.
type WindowError struct {
	Kind   JobKind
	Window timerange.Window
	Stage  Stage
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%s window %s: %s: %v", e.Kind, e.Window.Stamp(), e.Stage, e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}
