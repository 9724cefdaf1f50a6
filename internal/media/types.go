// Package media holds the domain types shared by the request pipeline:
// source references, resolved metadata, raw formats and renditions.
package media

import (
	"strings"
	"time"
)

// Kind is the target media kind of a request.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ParseKind maps a button payload to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindVideo:
		return KindVideo, true
	case KindAudio:
		return KindAudio, true
	default:
		return "", false
	}
}

// SourceRef is a validated link. It is immutable once created.
type SourceRef struct {
	Raw   string
	ID    string
	Valid bool
}

// WatchURL returns the canonical watch URL for the source.
func (r SourceRef) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + r.ID
}

// RawFormat is one entry of the remote format list, before catalog filtering.
type RawFormat struct {
	Handle        string // opaque format handle (YouTube itag)
	MimeType      string
	QualityLabel  string
	Width         int
	Height        int
	Bitrate       int
	AudioChannels int
	ContentLength int64
}

// Container returns the container subtype from the mime type ("video/mp4; codecs=..." -> "mp4").
func (f RawFormat) Container() string {
	mt := f.MimeType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if i := strings.IndexByte(mt, '/'); i >= 0 {
		mt = mt[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func (f RawFormat) HasVideo() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(f.MimeType)), "video/")
}

func (f RawFormat) HasAudio() bool {
	return f.AudioChannels > 0 || strings.HasPrefix(strings.ToLower(strings.TrimSpace(f.MimeType)), "audio/")
}

// Metadata is what the resolver fetches for a source. It lives only as long as the session.
type Metadata struct {
	ID        string
	Title     string
	Duration  time.Duration
	Thumbnail string
	Formats   []RawFormat
}

// Rendition is one selectable quality/container/stream combination.
type Rendition struct {
	Quality       string
	Container     string
	HasVideo      bool
	HasAudio      bool
	Handle        string
	Resolution    int
	ContentLength int64
}
