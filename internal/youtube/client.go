// Package youtube adapts github.com/kkdai/youtube/v2 to the pipeline's
// metadata lookup and direct stream capabilities.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	yt "github.com/kkdai/youtube/v2"

	"tubebot/internal/media"
)

// Client looks up metadata and opens format streams.
type Client struct {
	c *yt.Client
}

// New creates a client. hc may be nil (http.DefaultClient).
func New(hc *http.Client) *Client {
	return &Client{c: &yt.Client{HTTPClient: hc}}
}

// Lookup fetches metadata for a video id. It never downloads media.
func (c *Client) Lookup(ctx context.Context, id string) (media.Metadata, error) {
	v, err := c.c.GetVideoContext(ctx, id)
	if err != nil {
		return media.Metadata{}, MapError(err)
	}
	return toMetadata(v), nil
}

// OpenStream opens the byte stream of one format. The returned size is the
// advertised content length (0 when unknown).
func (c *Client) OpenStream(ctx context.Context, id, handle string) (io.ReadCloser, int64, error) {
	itag, err := strconv.Atoi(handle)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad format handle %q", media.ErrDownloadFailed, handle)
	}
	v, err := c.c.GetVideoContext(ctx, id)
	if err != nil {
		return nil, 0, MapError(err)
	}
	formats := v.Formats.Itag(itag)
	if len(formats) == 0 {
		return nil, 0, fmt.Errorf("%w: format %d no longer offered", media.ErrDownloadFailed, itag)
	}
	rc, size, err := c.c.GetStreamContext(ctx, v, &formats[0])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open stream: %w", media.ErrDownloadFailed, err)
	}
	return rc, size, nil
}

func toMetadata(v *yt.Video) media.Metadata {
	md := media.Metadata{
		ID:       v.ID,
		Title:    strings.TrimSpace(v.Title),
		Duration: v.Duration,
		Formats:  make([]media.RawFormat, 0, len(v.Formats)),
	}
	var best uint
	for _, t := range v.Thumbnails {
		if area := t.Width * t.Height; md.Thumbnail == "" || area > best {
			md.Thumbnail, best = t.URL, area
		}
	}
	for _, f := range v.Formats {
		md.Formats = append(md.Formats, media.RawFormat{
			Handle:        strconv.Itoa(f.ItagNo),
			MimeType:      f.MimeType,
			QualityLabel:  f.QualityLabel,
			Width:         f.Width,
			Height:        f.Height,
			Bitrate:       f.Bitrate,
			AudioChannels: f.AudioChannels,
			ContentLength: f.ContentLength,
		})
	}
	return md
}

// MapError classifies a library error into the pipeline taxonomy:
// 403/410 and playability refusals are Restricted, malformed ids are
// InvalidLink, everything else is Unavailable.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", media.ErrUnavailable, err)
	}
	switch {
	case errors.Is(err, yt.ErrInvalidCharactersInVideoID), errors.Is(err, yt.ErrVideoIDMinLength):
		return fmt.Errorf("%w: %w", media.ErrInvalidLink, err)
	case errors.Is(err, yt.ErrVideoPrivate),
		errors.Is(err, yt.ErrLoginRequired),
		errors.Is(err, yt.ErrNotPlayableInEmbed):
		return fmt.Errorf("%w: %w", media.ErrRestricted, err)
	}

	var code yt.ErrUnexpectedStatusCode
	if errors.As(err, &code) {
		switch int(code) {
		case http.StatusForbidden, http.StatusGone:
			return fmt.Errorf("%w: %w", media.ErrRestricted, err)
		}
		return fmt.Errorf("%w: %w", media.ErrUnavailable, err)
	}

	var ps *yt.ErrPlayabiltyStatus
	if errors.As(err, &ps) {
		switch strings.ToUpper(ps.Status) {
		case "LOGIN_REQUIRED", "AGE_CHECK_REQUIRED", "CONTENT_CHECK_REQUIRED":
			return fmt.Errorf("%w: %w", media.ErrRestricted, err)
		}
		return fmt.Errorf("%w: %w", media.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", media.ErrUnavailable, err)
}
