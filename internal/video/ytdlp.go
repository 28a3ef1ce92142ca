package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	acceptHeader     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptLanguage   = "en-US,en;q=0.5"
	unknownTitle     = "Unknown Title"
	noDescription    = "No description available."
)

var audioExtensions = []string{".mp3", ".m4a", ".webm", ".opus"}

// Runner lets tests stub external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec and logs their duration.
type ExecRunner struct {
	Logger *log.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if r.Logger != nil {
		if err != nil {
			r.Logger.Printf("exec failed cmd=%s duration_ms=%d err=%v stderr=%q", name, time.Since(start).Milliseconds(), err, truncate(errb.String(), 2048))
		} else {
			r.Logger.Printf("exec ok cmd=%s duration_ms=%d stdout_bytes=%d", name, time.Since(start).Milliseconds(), out.Len())
		}
	}
	return out.Bytes(), errb.Bytes(), err
}

type YTDLPConfig struct {
	Binary          string
	DownloadDir     string
	ProxyURL        string
	UserAgent       string
	DownloadTimeout time.Duration
	MetadataTimeout time.Duration
	Runner          Runner
}

// YTDLP drives the yt-dlp binary for audio downloads and metadata lookups.
type YTDLP struct {
	binary          string
	downloadDir     string
	proxyURL        string
	userAgent       string
	downloadTimeout time.Duration
	metadataTimeout time.Duration
	runner          Runner
}

func NewYTDLP(config YTDLPConfig) *YTDLP {
	if strings.TrimSpace(config.Binary) == "" {
		config.Binary = "yt-dlp"
	}
	if strings.TrimSpace(config.DownloadDir) == "" {
		config.DownloadDir = "downloads"
	}
	if strings.TrimSpace(config.UserAgent) == "" {
		config.UserAgent = DesktopUserAgent
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = 10 * time.Minute
	}
	if config.MetadataTimeout <= 0 {
		config.MetadataTimeout = 30 * time.Second
	}
	if config.Runner == nil {
		config.Runner = ExecRunner{}
	}
	return &YTDLP{
		binary:          config.Binary,
		downloadDir:     config.DownloadDir,
		proxyURL:        strings.TrimSpace(config.ProxyURL),
		userAgent:       config.UserAgent,
		downloadTimeout: config.DownloadTimeout,
		metadataTimeout: config.MetadataTimeout,
		runner:          config.Runner,
	}
}

// AudioFile is a downloaded track owned by a single caller.
type AudioFile struct {
	Path string
	stem string
}

// Remove deletes the track together with any intermediate files yt-dlp
// left next to it. Safe to call more than once.
func (f *AudioFile) Remove() error {
	if f == nil || f.stem == "" {
		return nil
	}
	return removeStem(f.stem)
}

// DownloadAudio fetches the best audio track and transcodes it to mp3. On
// error nothing is left behind in the download directory.
func (y *YTDLP) DownloadAudio(ctx context.Context, videoURL string) (*AudioFile, error) {
	if err := os.MkdirAll(y.downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	stem := filepath.Join(y.downloadDir, uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, y.downloadTimeout)
	defer cancel()

	args := []string{
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"-o", stem + ".%(ext)s",
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--no-check-certificates",
		"--force-ipv4",
		"--extractor-args", "youtube:player_client=android,web",
	}
	args = append(args, y.identityArgs()...)
	args = append(args, videoURL)

	if _, stderr, err := y.runner.Run(ctx, y.binary, args...); err != nil {
		_ = removeStem(stem)
		return nil, fmt.Errorf("yt-dlp download: %w: %s", err, truncate(strings.TrimSpace(string(stderr)), 512))
	}

	for _, ext := range audioExtensions {
		path := stem + ext
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return &AudioFile{Path: path, stem: stem}, nil
		}
	}
	_ = removeStem(stem)
	return nil, errors.New("yt-dlp produced no audio file")
}

// Metadata is the lightweight title/description lookup used when neither
// captions nor audio are available.
type Metadata struct {
	Title       string
	Description string
}

func (y *YTDLP) Metadata(ctx context.Context, videoURL string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, y.metadataTimeout)
	defer cancel()

	args := []string{"-J", "--skip-download", "--no-playlist", "--quiet", "--no-warnings", "--force-ipv4"}
	args = append(args, y.identityArgs()...)
	args = append(args, videoURL)

	stdout, stderr, err := y.runner.Run(ctx, y.binary, args...)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp metadata: %w: %s", err, truncate(strings.TrimSpace(string(stderr)), 512))
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return Metadata{}, errors.New("yt-dlp returned empty output")
	}

	var info struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(stdout, &info); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}

	meta := Metadata{Title: strings.TrimSpace(info.Title), Description: strings.TrimSpace(info.Description)}
	if meta.Title == "" {
		meta.Title = unknownTitle
	}
	if meta.Description == "" {
		meta.Description = noDescription
	}
	return meta, nil
}

func (y *YTDLP) identityArgs() []string {
	args := []string{
		"--user-agent", y.userAgent,
		"--add-header", "Accept:" + acceptHeader,
		"--add-header", "Accept-Language:" + acceptLanguage,
	}
	if y.proxyURL != "" {
		args = append(args, "--proxy", y.proxyURL)
	}
	return args
}

// MetadataText renders the fallback content handed to the summarizer.
func MetadataText(meta Metadata) string {
	return fmt.Sprintf(
		"VIDEO TITLE: %s\n\nVIDEO DESCRIPTION:\n%s\n\n%s",
		meta.Title,
		meta.Description,
		MetadataNote,
	)
}

// MetadataNote marks content that was built from metadata only.
const MetadataNote = "[NOTE: Full transcript was unavailable. Summary is based on video metadata.]"

func removeStem(stem string) error {
	matches, err := filepath.Glob(stem + ".*")
	if err != nil {
		return err
	}
	var errs []error
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
