package video

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	androidClientVersion = "20.10.38"
	androidUserAgent     = "com.google.android.youtube/" + androidClientVersion + " (Linux; U; Android 11) gzip"
)

var errNoCaptions = errors.New("no caption tracks")

// TranscriptSource returns the caption text of a video.
type TranscriptSource interface {
	Transcript(ctx context.Context, videoID string) (string, error)
}

type InnertubeConfig struct {
	BaseURL    string
	Languages  []string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// InnertubeTranscripts reads caption tracks through the ANDROID Innertube
// player endpoint and downloads the chosen timedtext track.
type InnertubeTranscripts struct {
	baseURL    string
	languages  []string
	timeout    time.Duration
	httpClient *http.Client
}

func NewInnertubeTranscripts(config InnertubeConfig) *InnertubeTranscripts {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://www.youtube.com"
	}
	if len(config.Languages) == 0 {
		config.Languages = []string{"en"}
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &InnertubeTranscripts{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		languages:  config.Languages,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

type innertubeRequest struct {
	VideoID        string           `json:"videoId"`
	Context        innertubeContext `json:"context"`
	RacyCheckOk    bool             `json:"racyCheckOk"`
	ContentCheckOk bool             `json:"contentCheckOk"`
}

type innertubeContext struct {
	Client innertubeClient `json:"client"`
}

type innertubeClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

type timedText struct {
	Lines      []timedLine `xml:"text"`
	Paragraphs []timedLine `xml:"body>p"`
}

type timedLine struct {
	Text string `xml:",innerxml"`
}

func (s *InnertubeTranscripts) Transcript(ctx context.Context, videoID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tracks, err := s.captionTracks(ctx, videoID)
	if err != nil {
		return "", err
	}
	track, ok := pickTrack(tracks, s.languages)
	if !ok {
		return "", errors.New("all caption tracks require a browser token")
	}

	body, err := s.get(ctx, track.BaseURL)
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	text, err := flattenTimedText(body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}

func (s *InnertubeTranscripts) captionTracks(ctx context.Context, videoID string) ([]captionTrack, error) {
	payload, err := json.Marshal(innertubeRequest{
		VideoID: videoID,
		Context: innertubeContext{Client: innertubeClient{
			ClientName:        "ANDROID",
			ClientVersion:     androidClientVersion,
			AndroidSdkVersion: 30,
			Hl:                "en",
			Gl:                "US",
		}},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return nil, err
	}

	body, err := s.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/youtubei/v1/player?prettyPrint=false", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", androidUserAgent)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", androidClientVersion)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("innertube player: %w", err)
	}

	var decoded playerResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	if decoded.Captions == nil {
		if decoded.PlayabilityStatus != nil && decoded.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("%w: %s", errNoCaptions, decoded.PlayabilityStatus.Reason)
		}
		return nil, errNoCaptions
	}
	tracks := decoded.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, errNoCaptions
	}
	return tracks, nil
}

func (s *InnertubeTranscripts) get(ctx context.Context, target string) ([]byte, error) {
	return s.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", androidUserAgent)
		return req, nil
	})
}

// do sends a request, retrying throttled and 5xx responses with backoff.
func (s *InnertubeTranscripts) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 3<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return body, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 3 * time.Second
	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}

// pickTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track. Tracks that need a browser
// proof-of-origin token are skipped.
func pickTrack(tracks []captionTrack, languages []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, track := range tracks {
		if !strings.Contains(track.BaseURL, "&exp=xpe") {
			usable = append(usable, track)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, language := range languages {
		for _, track := range usable {
			if track.LanguageCode == language && track.Kind != "asr" {
				return track, true
			}
		}
	}
	for _, language := range languages {
		for _, track := range usable {
			if track.LanguageCode == language {
				return track, true
			}
		}
	}
	for _, track := range usable {
		if strings.HasPrefix(track.LanguageCode, "en") {
			return track, true
		}
	}
	return usable[0], true
}

func flattenTimedText(body []byte) (string, error) {
	var parsed timedText
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse timedtext: %w", err)
	}
	lines := parsed.Lines
	if len(lines) == 0 {
		lines = parsed.Paragraphs
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		text := cleanCaption(line.Text)
		if text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n"), nil
}

// cleanCaption removes inline markup (srv3 <s> spans) and entity escaping.
func cleanCaption(raw string) string {
	var builder strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			builder.WriteRune(r)
		}
	}
	text := html.UnescapeString(html.UnescapeString(builder.String()))
	return strings.Join(strings.Fields(text), " ")
}
