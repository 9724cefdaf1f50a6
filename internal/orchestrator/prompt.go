package orchestrator

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"tubebot/internal/media"
	"tubebot/internal/transport"
	"tubebot/pkg/tgui"
)

const qualityColumns = 2

func formatKeyboard() transport.Keyboard {
	return transport.Keyboard{{
		{Text: "🎬 Video", Data: tgui.ActionVideo},
		{Text: "🎵 Audio", Data: tgui.ActionAudio},
	}}
}

// qualityKeyboard lists renditions in catalog order. Renditions whose
// payload would not fit a button are skipped.
func qualityKeyboard(sourceID string, rs []media.Rendition) transport.Keyboard {
	btns := lo.FilterMap(rs, func(r media.Rendition, _ int) (transport.Button, bool) {
		data, err := tgui.DownloadData(sourceID, r.Handle)
		if err != nil {
			return transport.Button{}, false
		}
		return transport.Button{Text: qualityLabel(r), Data: data}, true
	})
	return transport.Keyboard(tgui.Grid(btns, qualityColumns))
}

func qualityLabel(r media.Rendition) string {
	if r.ContentLength > 0 {
		return fmt.Sprintf("%s · %s", r.Quality, humanize.IBytes(uint64(r.ContentLength)))
	}
	return r.Quality
}

func caption(md media.Metadata) string {
	title := tgui.TruncRunes(md.Title, 200)
	h := tgui.Lines(
		tgui.B(title),
		tgui.Esc("Duration: "+clock(md.Duration)),
		tgui.Esc(msgChooseKind),
	)
	return string(h)
}

// clock renders d as m:ss or h:mm:ss.
func clock(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
