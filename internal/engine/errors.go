package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the pipeline and its transports.
var (
	// ErrMissingAPIKey is returned by LoadConfig when no LLM key is configured.
	ErrMissingAPIKey = errors.New("GEMINI_API_KEY (or LLM_API_KEY) is not set")

	// ErrNoCaptions means the video is playable but publishes no caption tracks.
	ErrNoCaptions = errors.New("no captions available for this video")

	// ErrEmptyCompletion is returned when the model answers with nothing.
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
)

// ValidationError is a caller mistake. Transports map it to HTTP 400 and
// show Msg to the caller verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Invalidf builds a ValidationError with a formatted message.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err should be shown to the caller as a 400.
// ErrNoCaptions counts as one: it only surfaces in strict caption mode.
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrNoCaptions)
}

// ValidationMessage returns the caller-facing text for a validation error.
func ValidationMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}
	if errors.Is(err, ErrNoCaptions) {
		return ErrNoCaptions.Error()
	}
	return err.Error()
}
