// Package catalog builds the ordered list of deliverable renditions from a
// raw format list.
//
// Video policy is muxed-only: a rendition must be in the deliverable container
// and carry both audio and video. Audio collapses to one synthetic descriptor
// pointing at the best audio-bearing format.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"tubebot/internal/media"
)

// Policy controls what counts as deliverable.
type Policy struct {
	// Container is the deliverable video container (e.g. "mp4").
	Container string
}

func DefaultPolicy() Policy { return Policy{Container: "mp4"} }

// Build returns renditions for kind. Video renditions are sorted strictly
// descending by resolution; for equal resolutions the first in source order
// wins. An empty result is ErrNoDeliverableRendition.
func Build(formats []media.RawFormat, kind media.Kind, p Policy) ([]media.Rendition, error) {
	var out []media.Rendition
	switch kind {
	case media.KindAudio:
		if r, ok := bestAudio(formats); ok {
			out = []media.Rendition{r}
		}
	case media.KindVideo:
		out = videoRenditions(formats, p)
	default:
		return nil, fmt.Errorf("catalog: unknown media kind %q", kind)
	}
	if len(out) == 0 {
		return nil, media.ErrNoDeliverableRendition
	}
	return out, nil
}

func videoRenditions(formats []media.RawFormat, p Policy) []media.Rendition {
	container := strings.ToLower(strings.TrimSpace(p.Container))
	if container == "" {
		container = DefaultPolicy().Container
	}

	eligible := lo.Filter(formats, func(f media.RawFormat, _ int) bool {
		return strings.TrimSpace(f.QualityLabel) != "" &&
			strings.TrimSpace(f.Handle) != "" &&
			f.Container() == container &&
			f.HasVideo() && f.HasAudio()
	})
	eligible = lo.UniqBy(eligible, func(f media.RawFormat) string { return f.Handle })

	renditions := lo.FilterMap(eligible, func(f media.RawFormat, _ int) (media.Rendition, bool) {
		res := Resolution(f)
		if res <= 0 {
			return media.Rendition{}, false
		}
		return media.Rendition{
			Quality:       strings.TrimSpace(f.QualityLabel),
			Container:     container,
			HasVideo:      true,
			HasAudio:      true,
			Handle:        f.Handle,
			Resolution:    res,
			ContentLength: f.ContentLength,
		}, true
	})
	sort.SliceStable(renditions, func(i, j int) bool {
		return renditions[i].Resolution > renditions[j].Resolution
	})
	return lo.UniqBy(renditions, func(r media.Rendition) int { return r.Resolution })
}

// bestAudio prefers audio-only formats, then highest bitrate, then source order.
func bestAudio(formats []media.RawFormat) (media.Rendition, bool) {
	candidates := lo.Filter(formats, func(f media.RawFormat, _ int) bool {
		return f.HasAudio() && strings.TrimSpace(f.Handle) != ""
	})
	if len(candidates) == 0 {
		return media.Rendition{}, false
	}
	best := candidates[0]
	for _, f := range candidates[1:] {
		if betterAudio(f, best) {
			best = f
		}
	}
	quality := "audio"
	if best.Bitrate > 0 {
		quality = fmt.Sprintf("%dkbps", best.Bitrate/1000)
	}
	return media.Rendition{
		Quality:       quality,
		Container:     best.Container(),
		HasVideo:      best.HasVideo(),
		HasAudio:      true,
		Handle:        best.Handle,
		ContentLength: best.ContentLength,
	}, true
}

func betterAudio(a, b media.RawFormat) bool {
	if a.HasVideo() != b.HasVideo() {
		return !a.HasVideo()
	}
	return a.Bitrate > b.Bitrate
}

// Resolution extracts the numeric height from a quality label ("1080p60" ->
// 1080), falling back to the reported height.
func Resolution(f media.RawFormat) int {
	label := strings.TrimSpace(f.QualityLabel)
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	if end > 0 {
		if n, err := strconv.Atoi(label[:end]); err == nil && n > 0 {
			return n
		}
	}
	return f.Height
}
