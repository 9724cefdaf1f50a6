// Package resolver turns link text into a validated source reference and
// its remote metadata.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tubebot/internal/media"
	logx "tubebot/pkg/logx"
)

// MetadataFetcher performs the single metadata round trip for a video id.
// Errors should already be classified into the media taxonomy.
type MetadataFetcher interface {
	Lookup(ctx context.Context, id string) (media.Metadata, error)
}

type Resolver struct {
	fetch MetadataFetcher
	log   logx.Logger
}

func New(fetch MetadataFetcher, log logx.Logger) *Resolver {
	return &Resolver{fetch: fetch, log: log}
}

// Resolve validates raw and fetches its metadata.
//
// A shape mismatch is InvalidLink. Once the shape matches, fetch failures
// surface as Restricted, InvalidLink (malformed id) or Unavailable.
func (r *Resolver) Resolve(ctx context.Context, raw string) (media.SourceRef, media.Metadata, error) {
	ref, err := ParseLink(raw)
	if err != nil {
		return ref, media.Metadata{}, err
	}
	md, err := r.fetch.Lookup(ctx, ref.ID)
	if err != nil {
		switch media.Classify(err) {
		case media.KindRestricted, media.KindInvalidLink, media.KindUnavailable:
		default:
			err = fmt.Errorf("%w: %w", media.ErrUnavailable, err)
		}
		r.log.Debug("resolve failed", logx.String("id", ref.ID), logx.Err(err))
		return ref, media.Metadata{}, err
	}
	if md.ID == "" {
		md.ID = ref.ID
	}
	if strings.TrimSpace(md.Title) == "" {
		return ref, media.Metadata{}, fmt.Errorf("%w: empty title", media.ErrUnavailable)
	}
	if len(md.Formats) == 0 {
		return ref, media.Metadata{}, errors.Join(media.ErrUnavailable, errors.New("no formats listed"))
	}
	return ref, md, nil
}
