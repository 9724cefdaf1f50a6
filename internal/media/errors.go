package media

import "errors"

// Error taxonomy of the request pipeline. Every failure that reaches the
// orchestrator is classified into exactly one of these.
var (
	ErrInvalidLink            = errors.New("invalid link")
	ErrUnavailable            = errors.New("source unavailable")
	ErrRestricted             = errors.New("source restricted")
	ErrNoDeliverableRendition = errors.New("no deliverable rendition")
	ErrTooLong                = errors.New("source too long")
	ErrTooLarge               = errors.New("artifact too large")
	ErrDownloadFailed         = errors.New("download failed")
	ErrTimeout                = errors.New("fetch timed out")
	ErrDeliveryFailed         = errors.New("delivery failed")
	ErrSessionNotFound        = errors.New("session not found")
)

// ErrorKind names a taxonomy entry.
type ErrorKind string

const (
	KindUnknown                ErrorKind = "unknown"
	KindInvalidLink            ErrorKind = "invalid_link"
	KindUnavailable            ErrorKind = "unavailable"
	KindRestricted             ErrorKind = "restricted"
	KindNoDeliverableRendition ErrorKind = "no_deliverable_rendition"
	KindTooLong                ErrorKind = "too_long"
	KindTooLarge               ErrorKind = "too_large"
	KindDownloadFailed         ErrorKind = "download_failed"
	KindTimeout                ErrorKind = "timeout"
	KindDeliveryFailed         ErrorKind = "delivery_failed"
	KindSessionNotFound        ErrorKind = "session_not_found"
)

// Order matters: the more specific causes are checked before DeliveryFailed,
// which may wrap one of them.
var classifyOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrInvalidLink, KindInvalidLink},
	{ErrRestricted, KindRestricted},
	{ErrUnavailable, KindUnavailable},
	{ErrNoDeliverableRendition, KindNoDeliverableRendition},
	{ErrTooLong, KindTooLong},
	{ErrTooLarge, KindTooLarge},
	{ErrTimeout, KindTimeout},
	{ErrDownloadFailed, KindDownloadFailed},
	{ErrDeliveryFailed, KindDeliveryFailed},
}

// Classify returns the taxonomy kind of err, or KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, c := range classifyOrder {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindUnknown
}
