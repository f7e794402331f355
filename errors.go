// errors.go - error kinds for the memory facade
//
// See §7 of the core's error-handling design: most kinds are ordinary
// returned errors; a BDI codec invariant violation is not (see
// CodecInvariantError in bdi.go) because it signals a bug in the
// codec itself rather than a runtime condition a caller can recover
// from sensibly.

package nvmain

import "errors"

var (
	// ErrNotConfigured is returned when a request arrives before
	// SetConfig has run.
	ErrNotConfigured = errors.New("nvmain: received request before configuration")

	// ErrChildRejected wraps a channel controller's rejection; no
	// accounting happens for a request that fails this way.
	ErrChildRejected = errors.New("nvmain: channel controller rejected request")

	// ErrDecoderUnderrun marks a translated channel index outside the
	// configured channel count — a programming error, not a runtime
	// condition a caller retries.
	ErrDecoderUnderrun = errors.New("nvmain: decoder produced out-of-range channel index")
)
