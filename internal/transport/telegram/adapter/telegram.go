package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "tubebot/internal/runtime/supervisor"
	kit "tubebot/internal/transport"
	logx "tubebot/pkg/logx"
	"tubebot/pkg/tgui"
)

// Config configures the telebot long-poll adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendTimeout bounds one Bot API call, uploads included.
	SendTimeout time.Duration
}

// api is the subset of *tele.Bot used for outbound calls.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	EditReplyMarkup(msg tele.Editable, markup *tele.ReplyMarkup) (*tele.Message, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	api     api
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	droppedUpdates atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The client timeout also covers getUpdates, so it never drops below the poll window.
	sendTimeout := max(cfg.SendTimeout, timeout+10*time.Second)
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		Client: &http.Client{Timeout: sendTimeout},
	})
	if err != nil {
		return nil, err
	}
	a := newAdapter(cfg, log, b)
	a.bot = b
	a.registerHandlers()
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, client api) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, api: client}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := textUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := buttonUpdate(c.Callback()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

func textUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	ev := &kit.TextEvent{
		ID:   m.ID,
		Dest: kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		Text: m.Text,
	}
	if m.Sender != nil {
		ev.FromID = m.Sender.ID
		ev.FromUsername = m.Sender.Username
	}
	return kit.Update{Kind: kit.UpdateText, Text: ev}, true
}

func buttonUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return kit.Update{}, false
	}
	m := cb.Message
	ev := &kit.ButtonEvent{
		ID:        cb.ID,
		Dest:      kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		MessageID: m.ID,
		// Buttons without Unique carry raw data; telebot may prefix "\f" otherwise.
		Payload: strings.TrimPrefix(cb.Data, "\f"),
	}
	if cb.Sender != nil {
		ev.FromID = cb.Sender.ID
	}
	return kit.Update{Kind: kit.UpdateButton, Button: ev}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	if a.bot == nil {
		return nil
	}
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// ---- Outbound ----

const telegramTextLimit = 4000

func sendOpts(to kit.ChatTarget, kb kit.Keyboard) *tele.SendOptions {
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              to.ThreadID,
	}
	if len(kb) > 0 {
		opt.ReplyMarkup = markup(kb)
	}
	return opt
}

func markup(kb kit.Keyboard) *tele.ReplyMarkup {
	rows := make([][]tele.Btn, 0, len(kb))
	for _, r := range kb {
		row := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			row = append(row, tgui.Btn(b.Text, b.Data))
		}
		rows = append(rows, row)
	}
	return tgui.Inline(rows)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error) {
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.api.Send(&tele.Chat{ID: to.ChatID}, chunk, sendOpts(to, nil))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref(to, msg)
		}
	}
	return first, nil
}

// SendLog implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.api.Send(&tele.Chat{ID: chatID}, tgui.TruncRunes(text, telegramTextLimit),
		&tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, url, caption string, kb kit.Keyboard) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	p := &tele.Photo{File: tele.FromURL(url), Caption: caption}
	msg, err := a.api.Send(&tele.Chat{ID: to.ChatID}, p, sendOpts(to, kb))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return ref(to, msg), nil
}

func (a *Adapter) SendButtons(ctx context.Context, to kit.ChatTarget, text string, kb kit.Keyboard) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.api.Send(&tele.Chat{ID: to.ChatID}, tgui.TruncRunes(text, telegramTextLimit), sendOpts(to, kb))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return ref(to, msg), nil
}

func (a *Adapter) SendAudio(ctx context.Context, to kit.ChatTarget, f kit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	au := &tele.Audio{
		File:     tele.FromReader(ctxReader{ctx: ctx, r: f.Reader}),
		FileName: f.Name,
		Title:    f.Title,
		Duration: f.Duration,
		MIME:     f.MIME,
	}
	return a.upload(ctx, to, au)
}

func (a *Adapter) SendVideo(ctx context.Context, to kit.ChatTarget, f kit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := &tele.Video{
		File:      tele.FromReader(ctxReader{ctx: ctx, r: f.Reader}),
		FileName:  f.Name,
		Duration:  f.Duration,
		MIME:      f.MIME,
		Streaming: true,
		// Caption limits count visible characters, so truncate before escaping.
		Caption: string(tgui.Esc(tgui.TruncRunes(f.Title, tgui.MaxCaptionLen))),
	}
	return a.upload(ctx, to, v)
}

// upload sends a file and returns as soon as ctx ends. telebot takes no
// context, so the request body is cut off through ctxReader and the
// abandoned call finishes in the background.
func (a *Adapter) upload(ctx context.Context, to kit.ChatTarget, what interface{}) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.api.Send(&tele.Chat{ID: to.ChatID}, what, sendOpts(to, nil))
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (a *Adapter) EditButtons(ctx context.Context, r kit.MessageRef, kb kit.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: r.MessageID, Chat: &tele.Chat{ID: r.ChatID}}
	_, err := a.api.EditReplyMarkup(m, markup(kb))
	return err
}

func (a *Adapter) Acknowledge(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.api.Respond(&tele.Callback{ID: eventID}, &tele.CallbackResponse{})
}

func ref(to kit.ChatTarget, msg *tele.Message) kit.MessageRef {
	r := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if msg != nil {
		r.MessageID = msg.ID
	}
	return r
}

// splitTelegramText splits long HTML text into chunks under limit runes,
// preferring newline boundaries and never cutting inside a tag.
func splitTelegramText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
