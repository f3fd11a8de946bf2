package hotkey

import "errors"

// ErrUnsupported is returned when the binary was built without a global
// hotkey backend (build tag hotkey).
var ErrUnsupported = errors.New("global hotkey not supported in this build")
