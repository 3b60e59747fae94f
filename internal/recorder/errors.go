package recorder

import "errors"

// ErrBackendTransport wraps any transport-level failure talking to the
// RecorderBackend (network error, non-200, malformed envelope). The
// coordinator maps this to callerr.ErrBackendUnavailable at its boundary.
var ErrBackendTransport = errors.New("recorder: backend transport error")
