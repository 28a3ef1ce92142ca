package domain

import "strings"

type ExtractionMethod string

const (
	MethodStaticFetch        ExtractionMethod = "static_fetch"
	MethodRenderedFetch      ExtractionMethod = "rendered_fetch"
	MethodManagedScrape      ExtractionMethod = "managed_scrape"
	MethodTranscript         ExtractionMethod = "transcript"
	MethodAudioTranscription ExtractionMethod = "audio_transcription"
	MethodMetadataFallback   ExtractionMethod = "metadata_fallback"
	MethodFailed             ExtractionMethod = "failed"
)

// ExtractionResult is the text produced by one of the extraction tiers.
type ExtractionResult struct {
	Method  ExtractionMethod
	Content string
}

func FailedExtraction() ExtractionResult {
	return ExtractionResult{Method: MethodFailed}
}

// Empty reports whether the result carries no usable text.
func (r ExtractionResult) Empty() bool {
	return strings.TrimSpace(r.Content) == ""
}
