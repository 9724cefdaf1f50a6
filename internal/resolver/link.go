package resolver

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"tubebot/internal/media"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var watchHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// pathPrefixes are the youtube.com paths whose next segment is the video id.
var pathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// ParseLink checks that raw is a recognized YouTube link shape and extracts
// the video id. It performs no network access.
func ParseLink(raw string) (media.SourceRef, error) {
	text := strings.TrimSpace(raw)
	ref := media.SourceRef{Raw: raw}
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return ref, fmt.Errorf("%w: not a link", media.ErrInvalidLink)
	}
	if !strings.Contains(text, "://") {
		text = "https://" + text
	}
	u, err := url.Parse(text)
	if err != nil {
		return ref, fmt.Errorf("%w: %w", media.ErrInvalidLink, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ref, fmt.Errorf("%w: scheme %q", media.ErrInvalidLink, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		id = firstSegment(u.Path)
	case watchHosts[host]:
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}
		for _, p := range pathPrefixes {
			if strings.HasPrefix(u.Path, p) {
				id = firstSegment(strings.TrimPrefix(u.Path, p))
				break
			}
		}
	default:
		return ref, fmt.Errorf("%w: host %q is not youtube", media.ErrInvalidLink, host)
	}

	if id == "" || !idPattern.MatchString(id) {
		return ref, fmt.Errorf("%w: no video id in %q", media.ErrInvalidLink, raw)
	}
	ref.ID = id
	ref.Valid = true
	return ref, nil
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
