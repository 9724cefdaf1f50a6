package youtube

import (
	"errors"
	"fmt"
	"testing"
	"time"

	yt "github.com/kkdai/youtube/v2"

	"tubebot/internal/media"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"private", yt.ErrVideoPrivate, media.ErrRestricted},
		{"login", fmt.Errorf("wrapped: %w", yt.ErrLoginRequired), media.ErrRestricted},
		{"forbidden", yt.ErrUnexpectedStatusCode(403), media.ErrRestricted},
		{"gone", yt.ErrUnexpectedStatusCode(410), media.ErrRestricted},
		{"server error", yt.ErrUnexpectedStatusCode(500), media.ErrUnavailable},
		{"short id", fmt.Errorf("extractVideoID failed: %w", yt.ErrVideoIDMinLength), media.ErrInvalidLink},
		{"bad chars", yt.ErrInvalidCharactersInVideoID, media.ErrInvalidLink},
		{"unplayable", &yt.ErrPlayabiltyStatus{Status: "ERROR", Reason: "Video unavailable"}, media.ErrUnavailable},
		{"age check", &yt.ErrPlayabiltyStatus{Status: "AGE_CHECK_REQUIRED"}, media.ErrRestricted},
		{"network", errors.New("dial tcp: timeout"), media.ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MapError(tc.in)
			if !errors.Is(got, tc.want) {
				t.Fatalf("MapError(%v) = %v, want %v", tc.in, got, tc.want)
			}
			if !errors.Is(got, tc.in) {
				t.Fatalf("original error lost: %v", got)
			}
		})
	}
}

func TestToMetadata(t *testing.T) {
	v := &yt.Video{
		ID:       "abc123",
		Title:    " Test Video ",
		Duration: 120 * time.Second,
		Thumbnails: yt.Thumbnails{
			{URL: "small", Width: 120, Height: 90},
			{URL: "big", Width: 1280, Height: 720},
			{URL: "mid", Width: 480, Height: 360},
		},
		Formats: yt.FormatList{
			{ItagNo: 22, MimeType: `video/mp4; codecs="avc1.64001F, mp4a.40.2"`, QualityLabel: "720p", AudioChannels: 2, ContentLength: 1000},
		},
	}
	md := toMetadata(v)
	if md.Title != "Test Video" || md.Thumbnail != "big" || md.Duration != 120*time.Second {
		t.Fatalf("unexpected metadata %+v", md)
	}
	if len(md.Formats) != 1 || md.Formats[0].Handle != "22" || !md.Formats[0].HasAudio() || md.Formats[0].Container() != "mp4" {
		t.Fatalf("unexpected formats %+v", md.Formats)
	}
}
