package video

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/iago/link-collector-back/internal/domain"
)

var (
	videoHostPatterns = []string{"youtube.com", "youtu.be"}
	videoIDRE         = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	pathIDPrefixes    = []string{"/shorts/", "/embed/", "/live/", "/v/"}
)

// IsVideoURL reports whether the URL points at a known video host.
func IsVideoURL(rawURL string) bool {
	lowered := strings.ToLower(rawURL)
	for _, pattern := range videoHostPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// ID derives the video identifier from the v= query parameter, a youtu.be
// short link, or a shorts/embed/live path.
func ID(rawURL string) (string, error) {
	candidate := idFromParsedURL(rawURL)
	if candidate == "" {
		candidate = idFromRawString(rawURL)
	}
	if !videoIDRE.MatchString(candidate) {
		return "", domain.NewError(domain.ErrInvalidInput, domain.InvalidVideoURLMessage)
	}
	return candidate, nil
}

func idFromParsedURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	if value := parsed.Query().Get("v"); value != "" {
		return value
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "youtu.be" || strings.HasSuffix(host, ".youtu.be") {
		return firstPathSegment(parsed.Path)
	}
	for _, prefix := range pathIDPrefixes {
		if strings.HasPrefix(parsed.Path, prefix) {
			return firstPathSegment(strings.TrimPrefix(parsed.Path, prefix))
		}
	}
	return ""
}

// idFromRawString handles strings that do not parse as URLs.
func idFromRawString(rawURL string) string {
	if _, after, ok := strings.Cut(rawURL, "v="); ok {
		value, _, _ := strings.Cut(after, "&")
		return value
	}
	if _, after, ok := strings.Cut(rawURL, "youtu.be/"); ok {
		value, _, _ := strings.Cut(after, "?")
		return value
	}
	return ""
}

func firstPathSegment(path string) string {
	segment, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return segment
}
