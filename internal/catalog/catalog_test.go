package catalog

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"tubebot/internal/media"
)

const muxedMP4 = `video/mp4; codecs="avc1.64001F, mp4a.40.2"`

func muxed(handle, label string) media.RawFormat {
	return media.RawFormat{Handle: handle, MimeType: muxedMP4, QualityLabel: label, AudioChannels: 2}
}

func TestBuildVideo(t *testing.T) {
	Convey("Given a mixed raw format list", t, func() {
		formats := []media.RawFormat{
			muxed("18", "360p"),
			{Handle: "137", MimeType: `video/mp4; codecs="avc1.640028"`, QualityLabel: "1080p"}, // video-only
			muxed("22", "720p"),
			{Handle: "140", MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2, Bitrate: 130000},
			{Handle: "43", MimeType: `video/webm; codecs="vp8.0, vorbis"`, QualityLabel: "480p", AudioChannels: 2},
			muxed("37", "1080p60"),
			muxed("22", "720p"), // duplicate handle
			muxed("99", ""),     // no label
		}

		Convey("Video renditions are muxed mp4 only, sorted descending", func() {
			out, err := Build(formats, media.KindVideo, DefaultPolicy())
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 3)
			So(out[0].Handle, ShouldEqual, "37")
			So(out[0].Resolution, ShouldEqual, 1080)
			So(out[1].Handle, ShouldEqual, "22")
			So(out[2].Handle, ShouldEqual, "18")
			for _, r := range out {
				So(r.HasVideo && r.HasAudio, ShouldBeTrue)
				So(r.Container, ShouldEqual, "mp4")
			}
		})

		Convey("Resolutions are strictly descending and handles unique", func() {
			out, _ := Build(formats, media.KindVideo, DefaultPolicy())
			seen := map[string]bool{}
			for i, r := range out {
				So(seen[r.Handle], ShouldBeFalse)
				seen[r.Handle] = true
				if i > 0 {
					So(r.Resolution, ShouldBeLessThan, out[i-1].Resolution)
				}
			}
		})

		Convey("Building twice yields identical catalogs", func() {
			a, _ := Build(formats, media.KindVideo, DefaultPolicy())
			b, _ := Build(formats, media.KindVideo, DefaultPolicy())
			So(a, ShouldResemble, b)
		})

		Convey("Audio collapses to the best audio-only format", func() {
			out, err := Build(formats, media.KindAudio, DefaultPolicy())
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 1)
			So(out[0].Handle, ShouldEqual, "140")
			So(out[0].HasVideo, ShouldBeFalse)
			So(out[0].Quality, ShouldEqual, "130kbps")
		})
	})

	Convey("Given two renditions with the same resolution", t, func() {
		formats := []media.RawFormat{muxed("a", "720p"), muxed("b", "720p60"), muxed("c", "1080p")}

		Convey("The first in source order is kept", func() {
			out, err := Build(formats, media.KindVideo, DefaultPolicy())
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 2)
			So(out[0].Handle, ShouldEqual, "c")
			So(out[1].Handle, ShouldEqual, "a")
		})
	})

	Convey("Given only adaptive streams", t, func() {
		formats := []media.RawFormat{
			{Handle: "137", MimeType: "video/mp4", QualityLabel: "1080p"},
			{Handle: "140", MimeType: "audio/mp4", AudioChannels: 2},
		}

		Convey("Video has no deliverable rendition", func() {
			_, err := Build(formats, media.KindVideo, DefaultPolicy())
			So(err, ShouldEqual, media.ErrNoDeliverableRendition)
		})
	})

	Convey("Given no audio at all", t, func() {
		formats := []media.RawFormat{{Handle: "137", MimeType: "video/mp4", QualityLabel: "1080p"}}

		Convey("Audio has no deliverable rendition", func() {
			_, err := Build(formats, media.KindAudio, DefaultPolicy())
			So(err, ShouldEqual, media.ErrNoDeliverableRendition)
		})
	})

	Convey("Given only muxed streams", t, func() {
		formats := []media.RawFormat{muxed("18", "360p"), muxed("22", "720p")}

		Convey("Audio falls back to a muxed format", func() {
			out, err := Build(formats, media.KindAudio, DefaultPolicy())
			So(err, ShouldBeNil)
			So(out[0].Handle, ShouldEqual, "18")
			So(out[0].HasVideo, ShouldBeTrue)
		})
	})
}

func TestResolution(t *testing.T) {
	tests := []struct {
		f    media.RawFormat
		want int
	}{
		{media.RawFormat{QualityLabel: "1080p60"}, 1080},
		{media.RawFormat{QualityLabel: "2160p HDR"}, 2160},
		{media.RawFormat{QualityLabel: "hd720", Height: 720}, 720},
		{media.RawFormat{}, 0},
	}
	for _, tc := range tests {
		if got := Resolution(tc.f); got != tc.want {
			t.Fatalf("Resolution(%+v) = %d, want %d", tc.f, got, tc.want)
		}
	}
}
