// Package orchestrator drives one requester's media request through
// resolve, format choice, quality choice, fetch and delivery.
//
// The orchestrator is not safe for concurrent calls on the same
// destination; callers serialize events per destination (see task/engine).
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"tubebot/internal/catalog"
	"tubebot/internal/eventbus"
	"tubebot/internal/fetch"
	"tubebot/internal/media"
	"tubebot/internal/resolver"
	"tubebot/internal/session"
	"tubebot/internal/transport"
	"tubebot/pkg/tgui"
	logx "tubebot/pkg/logx"
)

type Resolver interface {
	Resolve(ctx context.Context, raw string) (media.SourceRef, media.Metadata, error)
}

type Fetcher interface {
	CheckDuration(md media.Metadata) error
	Fetch(ctx context.Context, job fetch.Job) (*fetch.Artifact, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, art *fetch.Artifact, dest transport.ChatTarget, kind media.Kind) error
}

type Deps struct {
	Resolver Resolver
	Sessions *session.Store
	Fetcher  Fetcher
	Gate     Deliverer
	Out      transport.Outbound
	Bus      eventbus.Bus
	Log      logx.Logger
	Policy   catalog.Policy
}

type Orchestrator struct {
	res      Resolver
	sessions *session.Store
	fetcher  Fetcher
	gate     Deliverer
	out      transport.Outbound
	bus      eventbus.Bus
	log      logx.Logger
	policy   catalog.Policy
}

func New(d Deps) *Orchestrator {
	if d.Policy.Container == "" {
		d.Policy = catalog.DefaultPolicy()
	}
	return &Orchestrator{
		res:      d.Resolver,
		sessions: d.Sessions,
		fetcher:  d.Fetcher,
		gate:     d.Gate,
		out:      d.Out,
		bus:      d.Bus,
		log:      d.Log,
		policy:   d.Policy,
	}
}

// Handle processes one inbound update. Request failures are reported to
// the user and never returned; the error is only for transport failures
// worth logging by the caller.
func (o *Orchestrator) Handle(ctx context.Context, u transport.Update) error {
	switch {
	case u.Text != nil:
		return o.HandleText(ctx, *u.Text)
	case u.Button != nil:
		return o.HandleButton(ctx, *u.Button)
	default:
		return nil
	}
}

// HandleText starts a new request from link text, replacing any session
// the requester had.
func (o *Orchestrator) HandleText(ctx context.Context, ev transport.TextEvent) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}
	dest := ev.Dest

	if _, err := resolver.ParseLink(text); err != nil {
		return o.reply(ctx, dest, Message(err))
	}
	// A new link ends whatever request was pending.
	o.sessions.Remove(dest)
	if err := o.reply(ctx, dest, string(tgui.Esc(msgChecking))); err != nil {
		o.log.Debug("progress notice failed", logx.Err(err))
	}

	ref, md, err := o.res.Resolve(ctx, text)
	if err != nil {
		return o.fail(ctx, dest, ref.ID, err)
	}
	o.sessions.Put(dest, ref, md)
	o.publish(eventbus.RequestResolved, dest, ref.ID, "", "", nil)

	if md.Thumbnail != "" {
		_, err := o.out.SendPhoto(ctx, dest, md.Thumbnail, caption(md), formatKeyboard())
		if err == nil {
			return nil
		}
		o.log.Debug("thumbnail prompt failed, falling back to text", logx.Err(err))
	}
	_, err = o.out.SendButtons(ctx, dest, caption(md), formatKeyboard())
	return err
}

// HandleButton advances the requester's session by one choice.
func (o *Orchestrator) HandleButton(ctx context.Context, ev transport.ButtonEvent) error {
	dest := ev.Dest
	if ev.ID != "" {
		if err := o.out.Acknowledge(ctx, ev.ID); err != nil {
			o.log.Debug("acknowledge failed", logx.Err(err))
		}
	}

	p, err := tgui.ParsePayload(ev.Payload)
	if err != nil {
		o.log.Debug("unknown button payload", logx.String("payload", ev.Payload))
		return o.reply(ctx, dest, string(tgui.Esc(msgOutdated)))
	}

	sess, err := o.sessions.Get(dest)
	if err != nil {
		o.publish(eventbus.RequestFailed, dest, p.SourceID, "", "", err)
		return o.reply(ctx, dest, Message(err))
	}

	switch p.Action {
	case tgui.ActionVideo, tgui.ActionAudio:
		if sess.State != session.AwaitingFormatChoice && sess.State != session.AwaitingQualityChoice {
			return o.reply(ctx, dest, string(tgui.Esc(msgOutdated)))
		}
		o.clearButtons(ctx, ev)
		kind, _ := media.ParseKind(p.Action)
		return o.chooseKind(ctx, dest, sess, kind)
	case tgui.ActionDownload:
		kind, chosen := sess.Kind.Get()
		if !chosen || kind != media.KindVideo || p.SourceID != sess.Source.ID || sess.State != session.AwaitingQualityChoice {
			return o.reply(ctx, dest, string(tgui.Esc(msgOutdated)))
		}
		o.clearButtons(ctx, ev)
		return o.chooseRendition(ctx, dest, sess, p.Handle)
	default:
		return o.reply(ctx, dest, string(tgui.Esc(msgOutdated)))
	}
}

func (o *Orchestrator) chooseKind(ctx context.Context, dest transport.ChatTarget, sess session.Session, kind media.Kind) error {
	id := sess.Source.ID
	if err := o.fetcher.CheckDuration(sess.Meta); err != nil {
		return o.fail(ctx, dest, id, err)
	}
	rs, err := catalog.Build(sess.Meta.Formats, kind, o.policy)
	if err != nil {
		return o.fail(ctx, dest, id, err)
	}

	if kind == media.KindAudio {
		if _, err := o.sessions.SetKind(dest, kind, session.Fetching); err != nil {
			return o.fail(ctx, dest, id, err)
		}
		return o.fetchAndDeliver(ctx, dest, sess, kind, rs[0])
	}

	if _, err := o.sessions.SetKind(dest, kind, session.AwaitingQualityChoice); err != nil {
		return o.fail(ctx, dest, id, err)
	}
	kb := qualityKeyboard(id, rs)
	if len(kb) == 0 {
		return o.fail(ctx, dest, id, media.ErrNoDeliverableRendition)
	}
	text := tgui.Lines(tgui.B(tgui.TruncRunes(sess.Meta.Title, 200)), tgui.Esc(msgChooseVideo))
	_, err = o.out.SendButtons(ctx, dest, string(text), kb)
	return err
}

func (o *Orchestrator) chooseRendition(ctx context.Context, dest transport.ChatTarget, sess session.Session, handle string) error {
	rs, err := catalog.Build(sess.Meta.Formats, media.KindVideo, o.policy)
	if err != nil {
		return o.fail(ctx, dest, sess.Source.ID, err)
	}
	var chosen *media.Rendition
	for i := range rs {
		if rs[i].Handle == handle {
			chosen = &rs[i]
			break
		}
	}
	if chosen == nil {
		return o.reply(ctx, dest, string(tgui.Esc(msgOutdated)))
	}
	return o.fetchAndDeliver(ctx, dest, sess, media.KindVideo, *chosen)
}

func (o *Orchestrator) fetchAndDeliver(ctx context.Context, dest transport.ChatTarget, sess session.Session, kind media.Kind, r media.Rendition) error {
	id := sess.Source.ID
	stored, err := o.sessions.SetRendition(dest, r)
	if err != nil {
		return o.fail(ctx, dest, id, err)
	}
	o.publish(eventbus.RequestFetching, dest, id, kind, r.Handle, nil)
	if err := o.reply(ctx, dest, string(tgui.Esc(msgDownloading))); err != nil {
		o.log.Debug("progress notice failed", logx.Err(err))
	}

	job := fetch.Job{
		Source:    stored.Source,
		Meta:      stored.Meta,
		Kind:      stored.Kind.OrElse(kind),
		Rendition: stored.Rendition.OrElse(r),
	}
	art, err := o.fetcher.Fetch(ctx, job)
	if err != nil {
		return o.fail(ctx, dest, id, err)
	}
	if err := o.gate.Deliver(ctx, art, dest, kind); err != nil {
		return o.fail(ctx, dest, id, err)
	}

	o.sessions.RemoveIf(dest, id)
	o.publish(eventbus.RequestDelivered, dest, id, kind, r.Handle, nil)
	o.log.Info("request delivered",
		logx.Int64("chat_id", dest.ChatID),
		logx.String("id", id),
		logx.String("kind", string(kind)),
		logx.String("quality", r.Quality),
	)
	return nil
}

// fail ends the request: the session is cleared and exactly one failure
// message is sent.
func (o *Orchestrator) fail(ctx context.Context, dest transport.ChatTarget, sourceID string, err error) error {
	if sourceID != "" {
		o.sessions.RemoveIf(dest, sourceID)
	}
	kind := media.Classify(err)
	fields := []logx.Field{
		logx.Int64("chat_id", dest.ChatID),
		logx.String("id", sourceID),
		logx.String("error_kind", string(kind)),
		logx.Err(err),
	}
	if kind == media.KindUnknown {
		o.log.Error("request failed", fields...)
	} else {
		o.log.Info("request failed", fields...)
	}
	o.publish(eventbus.RequestFailed, dest, sourceID, "", "", err)

	// Shutdown may have cancelled ctx; the failure message still goes out.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	return o.reply(ctx, dest, Message(err))
}

func (o *Orchestrator) reply(ctx context.Context, dest transport.ChatTarget, text string) error {
	_, err := o.out.SendText(ctx, dest, text)
	return err
}

func (o *Orchestrator) clearButtons(ctx context.Context, ev transport.ButtonEvent) {
	if ev.MessageID == 0 {
		return
	}
	ref := transport.MessageRef{ChatID: ev.Dest.ChatID, ThreadID: ev.Dest.ThreadID, MessageID: ev.MessageID}
	if err := o.out.EditButtons(ctx, ref, nil); err != nil {
		o.log.Debug("remove buttons failed", logx.Err(err))
	}
}

func (o *Orchestrator) publish(typ string, dest transport.ChatTarget, sourceID string, kind media.Kind, handle string, err error) {
	if o.bus == nil {
		return
	}
	data := eventbus.RequestData{ChatID: dest.ChatID, SourceID: sourceID, Kind: string(kind), Handle: handle}
	if err != nil {
		data.Err = string(media.Classify(err))
		if errors.Is(err, context.Canceled) {
			data.Err = "canceled"
		}
	}
	o.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
