package ingest

import "context"

// Transcoder converts a persisted artifact from one container/mime type to
// the canonical one for its call kind. It is an interface only: the actual
// conversion work (e.g. invoking ffmpeg) is delegated to an external
// capability, per spec.md Non-goals.
type Transcoder interface {
	Transcode(ctx context.Context, fileID, fromMimeType, toMimeType string) error
}

// NoopTranscoder rejects every transcode request. It is the zero-config
// default: a deployment that never receives non-canonical artifacts never
// needs a real Transcoder wired in.
type NoopTranscoder struct{}

// Transcode implements Transcoder.
func (NoopTranscoder) Transcode(ctx context.Context, fileID, fromMimeType, toMimeType string) error {
	return ErrTranscoderUnavailable
}
