package domain

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrJobNotFound         = errors.New("job not found")
	ErrUserNotFound        = errors.New("user profile not found")
	ErrQuotaExceeded       = errors.New("monthly free credit limit reached")
	ErrInvalidTransition   = errors.New("invalid job transition")
)

const (
	UnknownErrorMessage    = "Unknown error"
	NoContentMessage       = "No content extracted"
	VideoExhaustedMessage  = "Failed to process YouTube video (Transcript, Audio, and Metadata all failed)."
	InvalidVideoURLMessage = "Invalid YouTube URL"
	QuotaExceededMessage   = "Monthly free credit limit reached. Please upgrade to Pro."
	SummarizationStub      = `{ "error": "LLM processing failed" }`
)

// Error pairs a taxonomy sentinel with the message reported to users.
type Error struct {
	Kind    error
	Message string
}

func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}
