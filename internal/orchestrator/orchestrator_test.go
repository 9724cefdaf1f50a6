package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"tubebot/internal/catalog"
	"tubebot/internal/delivery"
	"tubebot/internal/eventbus"
	"tubebot/internal/fetch"
	"tubebot/internal/media"
	"tubebot/internal/resolver"
	"tubebot/internal/scratch"
	"tubebot/internal/session"
	"tubebot/internal/transport"
	"tubebot/pkg/tgui"
	logx "tubebot/pkg/logx"
)

type fakeOut struct {
	mu       sync.Mutex
	texts    []string
	photos   int
	prompts  []transport.Keyboard
	videos   int
	audios   int
	edits    int
	acks     int
	videoErr error
}

func (f *fakeOut) SendText(ctx context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeOut) SendPhoto(ctx context.Context, to transport.ChatTarget, url, caption string, kb transport.Keyboard) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos++
	f.prompts = append(f.prompts, kb)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 100}, nil
}

func (f *fakeOut) SendButtons(ctx context.Context, to transport.ChatTarget, text string, kb transport.Keyboard) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, kb)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 101}, nil
}

func (f *fakeOut) SendAudio(ctx context.Context, to transport.ChatTarget, file transport.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audios++
	return nil
}

func (f *fakeOut) SendVideo(ctx context.Context, to transport.ChatTarget, file transport.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos++
	return f.videoErr
}

func (f *fakeOut) EditButtons(ctx context.Context, ref transport.MessageRef, kb transport.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	return nil
}

func (f *fakeOut) Acknowledge(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

// failures returns texts that are not progress notices.
func (f *fakeOut) failures() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.texts {
		if t == esc(msgChecking) || t == esc(msgDownloading) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (f *fakeOut) lastPrompt() transport.Keyboard {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeLookup struct {
	meta  map[string]media.Metadata
	err   error
	calls atomic.Int32
}

func (f *fakeLookup) Lookup(ctx context.Context, id string) (media.Metadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return media.Metadata{}, f.err
	}
	md, ok := f.meta[id]
	if !ok {
		return media.Metadata{}, media.ErrUnavailable
	}
	return md, nil
}

type sizedStrategy struct {
	n     int
	calls atomic.Int32
}

func (s *sizedStrategy) Name() string { return "sized" }

func (s *sizedStrategy) Fetch(ctx context.Context, req fetch.Request, dst *scratch.File, maxBytes int64) error {
	s.calls.Add(1)
	w, err := dst.Create()
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = w.Write(bytes.Repeat([]byte{'v'}, s.n))
	return err
}

func testFormats() []media.RawFormat {
	return []media.RawFormat{
		{Handle: "22", MimeType: `video/mp4; codecs="avc1.64001F, mp4a.40.2"`, QualityLabel: "720p", AudioChannels: 2},
		{Handle: "37", MimeType: `video/mp4; codecs="avc1.640028, mp4a.40.2"`, QualityLabel: "1080p", AudioChannels: 2, ContentLength: 30_000},
		{Handle: "140", MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 128_000, AudioChannels: 2},
	}
}

type harness struct {
	o        *Orchestrator
	out      *fakeOut
	lookup   *fakeLookup
	strategy *sizedStrategy
	ws       *scratch.Workspace
	sessions *session.Store
	events   <-chan eventbus.Event
}

func newHarness(t *testing.T, bytesFetched int) *harness {
	t.Helper()
	ws, err := scratch.New(afero.NewMemMapFs(), "/scratch", logx.Nop())
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	lim := fetch.Limits{
		MaxBytes:      50_000,
		MaxDuration:   600 * time.Second,
		MinVideoBytes: 10 * 1024,
		MinAudioBytes: 1024,
		Timeout:       time.Second,
	}
	h := &harness{
		out: &fakeOut{},
		lookup: &fakeLookup{meta: map[string]media.Metadata{
			"abc123": {ID: "abc123", Title: "Test Video", Duration: 120 * time.Second, Thumbnail: "https://i.ytimg.com/vi/abc123/hq.jpg", Formats: testFormats()},
			"def456": {ID: "def456", Title: "Other Video", Duration: 90 * time.Second, Formats: testFormats()},
			"long700": {ID: "long700", Title: "Long Video", Duration: 700 * time.Second, Formats: testFormats()},
		}},
		strategy: &sizedStrategy{n: bytesFetched},
		ws:       ws,
		sessions: session.NewStore(15 * time.Minute),
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	t.Cleanup(unsub)
	h.events = events

	engine := fetch.New(ws, h.strategy, nil, 2, lim, logx.Nop())
	h.o = New(Deps{
		Resolver: resolver.New(h.lookup, logx.Nop()),
		Sessions: h.sessions,
		Fetcher:  engine,
		Gate:     delivery.New(h.out, func() int64 { return lim.MaxBytes }, 0, logx.Nop()),
		Out:      h.out,
		Bus:      bus,
		Log:      logx.Nop(),
		Policy:   catalog.DefaultPolicy(),
	})
	return h
}

var me = transport.ChatTarget{ChatID: 42}

func esc(s string) string { return string(tgui.Esc(s)) }

func (h *harness) text(t *testing.T, s string) {
	t.Helper()
	if err := h.o.Handle(context.Background(), transport.Update{Kind: transport.UpdateText, Text: &transport.TextEvent{Dest: me, Text: s}}); err != nil {
		t.Fatalf("text %q: %v", s, err)
	}
}

func (h *harness) click(t *testing.T, payload string) {
	t.Helper()
	ev := &transport.ButtonEvent{ID: "cb", Dest: me, MessageID: 7, Payload: payload}
	if err := h.o.Handle(context.Background(), transport.Update{Kind: transport.UpdateButton, Button: ev}); err != nil {
		t.Fatalf("click %q: %v", payload, err)
	}
}

func (h *harness) drainTypes() []string {
	var out []string
	for {
		select {
		case e := <-h.events:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestVideoRequestDelivered(t *testing.T) {
	h := newHarness(t, 20_000)

	h.text(t, "https://youtu.be/abc123")
	if h.out.photos != 1 {
		t.Fatalf("expected thumbnail prompt, photos=%d", h.out.photos)
	}
	sess, err := h.sessions.Get(me)
	if err != nil || sess.State != session.AwaitingFormatChoice {
		t.Fatalf("session=%+v err=%v", sess, err)
	}

	h.click(t, tgui.ActionVideo)
	kb := h.out.lastPrompt()
	if len(kb) != 1 || len(kb[0]) != 2 {
		t.Fatalf("quality keyboard=%+v", kb)
	}
	if kb[0][0].Data != "download:abc123:37" || !strings.HasPrefix(kb[0][0].Text, "1080p") {
		t.Fatalf("first button=%+v", kb[0][0])
	}
	if kb[0][1].Data != "download:abc123:22" {
		t.Fatalf("second button=%+v", kb[0][1])
	}

	h.click(t, kb[0][0].Data)
	if h.out.videos != 1 {
		t.Fatalf("videos=%d", h.out.videos)
	}
	if got := h.out.failures(); len(got) != 0 {
		t.Fatalf("unexpected messages %q", got)
	}
	if h.ws.Count() != 0 {
		t.Fatalf("scratch files left: %d", h.ws.Count())
	}
	if h.sessions.Len() != 0 {
		t.Fatal("session not cleared")
	}
	if h.out.acks != 2 || h.out.edits != 2 {
		t.Fatalf("acks=%d edits=%d", h.out.acks, h.out.edits)
	}
	types := h.drainTypes()
	want := []string{eventbus.RequestResolved, eventbus.RequestFetching, eventbus.RequestDelivered}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events=%v want %v", types, want)
	}
}

func TestAudioSkipsQualityPrompt(t *testing.T) {
	h := newHarness(t, 4096)
	h.text(t, "youtube.com/watch?v=abc123")
	h.click(t, tgui.ActionAudio)

	if h.out.audios != 1 || h.out.videos != 0 {
		t.Fatalf("audios=%d videos=%d", h.out.audios, h.out.videos)
	}
	if len(h.out.prompts) != 1 {
		t.Fatalf("expected only the format prompt, got %d", len(h.out.prompts))
	}
	if h.ws.Count() != 0 || h.sessions.Len() != 0 {
		t.Fatalf("files=%d sessions=%d", h.ws.Count(), h.sessions.Len())
	}
}

func TestTooLongFailsWithoutFetching(t *testing.T) {
	for _, action := range []string{tgui.ActionVideo, tgui.ActionAudio} {
		t.Run(action, func(t *testing.T) {
			h := newHarness(t, 20_000)
			h.text(t, "https://www.youtube.com/watch?v=long700")
			h.click(t, action)

			if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgTooLong) {
				t.Fatalf("messages=%q", got)
			}
			if h.strategy.calls.Load() != 0 {
				t.Fatal("fetch job created for a too-long source")
			}
			if h.sessions.Len() != 0 {
				t.Fatal("session not cleared")
			}
		})
	}
}

func TestZeroByteDownloadFails(t *testing.T) {
	h := newHarness(t, 0)
	h.text(t, "https://youtu.be/abc123")
	h.click(t, tgui.ActionVideo)
	h.click(t, "download:abc123:22")

	if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgDownloadFailed) {
		t.Fatalf("messages=%q", got)
	}
	if h.out.videos != 0 {
		t.Fatal("empty artifact was sent")
	}
	if h.ws.Count() != 0 || h.sessions.Len() != 0 {
		t.Fatalf("files=%d sessions=%d", h.ws.Count(), h.sessions.Len())
	}
}

func TestAdvertisedSizeTooLarge(t *testing.T) {
	h := newHarness(t, 20_000)
	h.lookup.meta["abc123"] = media.Metadata{ID: "abc123", Title: "Big", Duration: time.Minute, Formats: []media.RawFormat{
		{Handle: "22", MimeType: "video/mp4", QualityLabel: "720p", AudioChannels: 2, ContentLength: 90_000},
	}}
	h.text(t, "https://youtu.be/abc123")
	h.click(t, tgui.ActionVideo)
	h.click(t, "download:abc123:22")

	if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgTooLarge) {
		t.Fatalf("messages=%q", got)
	}
	if h.strategy.calls.Load() != 0 {
		t.Fatal("downloaded despite advertised size")
	}
}

func TestDeliveryFailureCleansUp(t *testing.T) {
	h := newHarness(t, 20_000)
	h.out.videoErr = errors.New("telegram: request entity too large")
	h.text(t, "https://youtu.be/abc123")
	h.click(t, tgui.ActionVideo)
	h.click(t, "download:abc123:22")

	if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgDeliveryFailed) {
		t.Fatalf("messages=%q", got)
	}
	if h.ws.Count() != 0 || h.sessions.Len() != 0 {
		t.Fatalf("files=%d sessions=%d", h.ws.Count(), h.sessions.Len())
	}
}

func TestButtonWithoutSession(t *testing.T) {
	h := newHarness(t, 20_000)
	h.click(t, "download:abc123:22")

	if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgNoSession) {
		t.Fatalf("messages=%q", got)
	}
	if h.sessions.Len() != 0 || h.strategy.calls.Load() != 0 || h.out.edits != 0 {
		t.Fatalf("state mutated: sessions=%d fetches=%d edits=%d", h.sessions.Len(), h.strategy.calls.Load(), h.out.edits)
	}
}

func TestNewLinkOverwritesSession(t *testing.T) {
	h := newHarness(t, 20_000)
	h.text(t, "https://youtu.be/abc123")
	h.text(t, "https://youtu.be/def456")

	sess, err := h.sessions.Get(me)
	if err != nil || sess.Source.ID != "def456" {
		t.Fatalf("session=%+v err=%v", sess.Source, err)
	}
	h.click(t, tgui.ActionVideo)
	if kb := h.out.lastPrompt(); kb[0][0].Data != "download:def456:37" {
		t.Fatalf("quality prompt for wrong source: %+v", kb)
	}
}

func TestStaleQualityButton(t *testing.T) {
	h := newHarness(t, 20_000)
	h.text(t, "https://youtu.be/abc123")
	h.click(t, tgui.ActionVideo)
	h.text(t, "https://youtu.be/def456")
	h.click(t, "download:abc123:37")

	if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgOutdated) {
		t.Fatalf("messages=%q", got)
	}
	sess, err := h.sessions.Get(me)
	if err != nil || sess.Source.ID != "def456" || sess.State != session.AwaitingFormatChoice {
		t.Fatalf("session changed: %+v err=%v", sess, err)
	}
	if h.strategy.calls.Load() != 0 {
		t.Fatal("stale button started a fetch")
	}
}

func TestDownloadButtonNeedsVideoKind(t *testing.T) {
	h := newHarness(t, 20_000)
	h.text(t, "https://youtu.be/abc123")
	if _, err := h.sessions.SetKind(me, media.KindAudio, session.AwaitingQualityChoice); err != nil {
		t.Fatalf("SetKind: %v", err)
	}
	h.click(t, "download:abc123:18")

	if got := h.out.failures(); len(got) != 1 || got[0] != esc(msgOutdated) {
		t.Fatalf("messages=%q", got)
	}
	if h.strategy.calls.Load() != 0 {
		t.Fatal("download started for an audio session")
	}
	sess, err := h.sessions.Get(me)
	if err != nil || sess.Rendition.IsPresent() {
		t.Fatalf("session changed: %+v err=%v", sess, err)
	}
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		err    error
		want   string
		lookup int32
	}{
		{"not a link", "hello there", nil, msgInvalidLink, 0},
		{"restricted", "https://youtu.be/abc123", media.ErrRestricted, msgRestricted, 1},
		{"unavailable", "https://youtu.be/abc123", errors.New("connection reset"), msgUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 20_000)
			h.lookup.err = tt.err
			h.text(t, tt.input)
			if got := h.out.failures(); len(got) != 1 || got[0] != esc(tt.want) {
				t.Fatalf("messages=%q", got)
			}
			if h.lookup.calls.Load() != tt.lookup {
				t.Fatalf("lookups=%d want %d", h.lookup.calls.Load(), tt.lookup)
			}
			if h.sessions.Len() != 0 {
				t.Fatal("session created on failure")
			}
		})
	}
}

func TestCommandsIgnored(t *testing.T) {
	h := newHarness(t, 20_000)
	h.text(t, "/start")
	if len(h.out.texts) != 0 || h.lookup.calls.Load() != 0 {
		t.Fatalf("texts=%q lookups=%d", h.out.texts, h.lookup.calls.Load())
	}
}

func TestMessageMapping(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{media.ErrTimeout, msgTimeout},
		{media.ErrNoDeliverableRendition, msgNoRendition},
		{errors.Join(media.ErrDeliveryFailed, media.ErrTooLarge), msgTooLarge},
		{errors.New("boom"), msgGeneric},
	}
	for _, tt := range tests {
		if got := Message(tt.err); got != esc(tt.want) {
			t.Fatalf("Message(%v)=%q want %q", tt.err, got, esc(tt.want))
		}
	}
}
