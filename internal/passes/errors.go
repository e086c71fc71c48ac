package passes

import "errors"

var (
	// ErrPassAlreadyOpen is returned when a beacon already has an open pass.
	ErrPassAlreadyOpen = errors.New("passes: beacon already has an open pass")
	// ErrNoOpenPass is returned when an operation needs an open pass and there is none.
	ErrNoOpenPass = errors.New("passes: beacon has no open pass")
	// ErrInvalidBeacon is returned for beacon ids that are not positive.
	ErrInvalidBeacon = errors.New("passes: invalid beacon id")
	// ErrOutOfOrder is returned for a sample older than the last one seen for its beacon.
	ErrOutOfOrder = errors.New("passes: sample older than last seen")
)

// ErrPassClosed is returned when restoring a record that is already terminal.
var ErrPassClosed = errors.New("passes: pass is closed")
