package orchestrator

import (
	"tubebot/internal/media"
	"tubebot/pkg/tgui"
)

// User-facing texts. Each error kind maps to exactly one message.
const (
	msgInvalidLink    = "That doesn't look like a YouTube link. Send a youtube.com or youtu.be link."
	msgUnavailable    = "This video is unavailable. Try another link."
	msgRestricted     = "This video is private, age-restricted or blocked. Try another link."
	msgNoRendition    = "No downloadable format was found for this video."
	msgTooLong        = "This video is too long to download."
	msgTooLarge       = "The file is too large to send."
	msgDownloadFailed = "The download failed. Try again or use another link."
	msgTimeout        = "The download took too long and was cancelled."
	msgDeliveryFailed = "The file could not be sent. Try again later."
	msgNoSession      = "This request has expired. Send the link again."
	msgGeneric        = "Something went wrong. Try another link."

	msgChecking    = "Checking link…"
	msgDownloading = "Downloading…"
	msgOutdated    = "This button is outdated. Use the latest message or send the link again."
	msgChooseKind  = "Choose a format:"
	msgChooseVideo = "Choose a quality:"
)

var kindMessages = map[media.ErrorKind]string{
	media.KindInvalidLink:            msgInvalidLink,
	media.KindUnavailable:            msgUnavailable,
	media.KindRestricted:             msgRestricted,
	media.KindNoDeliverableRendition: msgNoRendition,
	media.KindTooLong:                msgTooLong,
	media.KindTooLarge:               msgTooLarge,
	media.KindDownloadFailed:         msgDownloadFailed,
	media.KindTimeout:                msgTimeout,
	media.KindDeliveryFailed:         msgDeliveryFailed,
	media.KindSessionNotFound:        msgNoSession,
}

// Message returns the escaped user-facing text for err.
func Message(err error) string {
	if msg, ok := kindMessages[media.Classify(err)]; ok {
		return string(tgui.Esc(msg))
	}
	return string(tgui.Esc(msgGeneric))
}
