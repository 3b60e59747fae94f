package ingest

import "errors"

// ErrTranscoderUnavailable is returned by NoopTranscoder, and wrapped into
// callerr.ErrTranscodeFailed at the Coordinator boundary.
var ErrTranscoderUnavailable = errors.New("ingest: no transcoder configured")
