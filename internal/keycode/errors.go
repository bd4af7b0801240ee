package keycode

import "errors"

// ErrInvalidParameter is returned for keycodes whose fields are out of
// range or otherwise nonsensical, mirroring the wire-visible
// invalid_parameter error code of spec.md §7.
var ErrInvalidParameter = errors.New("keycode: invalid parameter")

// ErrNotFound is returned by Describe when no table entry matches.
var ErrNotFound = errors.New("keycode: no description found")
