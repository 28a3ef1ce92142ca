package video

import (
	"context"
	"log"
	"strings"

	"github.com/iago/link-collector-back/internal/cascade"
	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/offload"
)

// AudioDownloader fetches a video's audio track to a local file.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, videoURL string) (*AudioFile, error)
}

type MetadataSource interface {
	Metadata(ctx context.Context, videoURL string) (Metadata, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Dependencies struct {
	Transcripts TranscriptSource
	Audio       AudioDownloader
	Metadata    MetadataSource
	Transcriber Transcriber
	Pool        *offload.Pool
	Logger      *log.Logger
}

// Extractor turns a YouTube URL into text: captions first, then a
// transcribed audio download, then title and description only.
type Extractor struct {
	transcripts TranscriptSource
	audio       AudioDownloader
	metadata    MetadataSource
	transcriber Transcriber
	pool        *offload.Pool
	logger      *log.Logger
}

func NewExtractor(deps Dependencies) *Extractor {
	return &Extractor{
		transcripts: deps.Transcripts,
		audio:       deps.Audio,
		metadata:    deps.Metadata,
		transcriber: deps.Transcriber,
		pool:        deps.Pool,
		logger:      deps.Logger,
	}
}

func (e *Extractor) Process(ctx context.Context, videoURL string) (domain.ExtractionResult, error) {
	videoID, err := ID(videoURL)
	if err != nil {
		return domain.ExtractionResult{}, err
	}

	text, outcome, err := cascade.Run(ctx, e.logger, e.tiers(videoURL, videoID))
	if err != nil {
		e.logf("video extraction exhausted video_id=%s tiers=%d", videoID, len(outcome.Failures))
		return domain.ExtractionResult{}, domain.NewError(domain.ErrExtractionFailed, domain.VideoExhaustedMessage)
	}
	e.logf("video extracted video_id=%s method=%s chars=%d", videoID, outcome.Tier, len(text))
	return domain.ExtractionResult{
		Method:  domain.ExtractionMethod(outcome.Tier),
		Content: text,
	}, nil
}

func (e *Extractor) tiers(videoURL, videoID string) []cascade.Tier[string] {
	tiers := make([]cascade.Tier[string], 0, 3)
	if e.transcripts != nil {
		tiers = append(tiers, cascade.Tier[string]{
			Name:   string(domain.MethodTranscript),
			Usable: hasText,
			Run: func(ctx context.Context) (string, error) {
				return e.transcripts.Transcript(ctx, videoID)
			},
		})
	}
	if e.audio != nil && e.transcriber != nil {
		tiers = append(tiers, cascade.Tier[string]{
			Name:   string(domain.MethodAudioTranscription),
			Usable: hasText,
			Run: func(ctx context.Context) (string, error) {
				return offload.Do(ctx, e.pool, func(ctx context.Context) (string, error) {
					return e.transcribeAudio(ctx, videoURL)
				})
			},
		})
	}
	if e.metadata != nil {
		tiers = append(tiers, cascade.Tier[string]{
			Name:   string(domain.MethodMetadataFallback),
			Usable: hasText,
			Run: func(ctx context.Context) (string, error) {
				meta, err := offload.Do(ctx, e.pool, func(ctx context.Context) (Metadata, error) {
					return e.metadata.Metadata(ctx, videoURL)
				})
				if err != nil {
					return "", err
				}
				return MetadataText(meta), nil
			},
		})
	}
	return tiers
}

// transcribeAudio owns the downloaded file for its whole lifetime.
func (e *Extractor) transcribeAudio(ctx context.Context, videoURL string) (string, error) {
	file, err := e.audio.DownloadAudio(ctx, videoURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := file.Remove(); err != nil {
			e.logf("audio cleanup failed path=%s err=%v", file.Path, err)
		}
	}()
	return e.transcriber.Transcribe(ctx, file.Path)
}

func (e *Extractor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func hasText(value string) bool {
	return strings.TrimSpace(value) != ""
}
