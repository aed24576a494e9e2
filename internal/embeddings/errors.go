package embeddings

import "errors"

var (
	// ErrUnavailable indicates a transient provider failure. Callers may
	// retry with backoff.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrInputTooLong indicates a single input exceeded the provider's
	// length limit. The caller must truncate or re-chunk; retrying the
	// same input cannot succeed.
	ErrInputTooLong = errors.New("embedding input too long")

	// ErrEmptyInput indicates an empty text or batch.
	ErrEmptyInput = errors.New("embedding input is empty")

	// ErrInvalidConfig indicates an unusable provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings config")
)
