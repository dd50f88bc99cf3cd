package pipeline

import "errors"

// Configuration failures surfaced during assembly, before any execution.
var (
	// ErrMissingInputSource means neither a local image nor a map service
	// was configured.
	ErrMissingInputSource = errors.New("no input source: configure an image or a map service")

	// ErrResampleTooLarge means the requested resample size exceeds the
	// model's native input width.
	ErrResampleTooLarge = errors.New("resample size exceeds model input size")

	// ErrWindowTooLarge means a requested window size exceeds the model's
	// native input width and no resample was requested.
	ErrWindowTooLarge = errors.New("window size exceeds model input size")

	// ErrMissingCredentials means catalog lookups were configured without
	// credentials or a token.
	ErrMissingCredentials = errors.New("catalog lookup requires credentials or a token")
)
