package tgui

import (
	"errors"
	"fmt"
	"strings"
)

// Button payload actions.
const (
	ActionVideo    = "video"
	ActionAudio    = "audio"
	ActionDownload = "download"
)

var ErrBadPayload = errors.New("tgui: malformed button payload")

// Payload is a decoded button payload.
type Payload struct {
	Action   string
	SourceID string // download only
	Handle   string // download only
}

// DownloadData formats a quality button payload as "download:<sourceID>:<handle>".
func DownloadData(sourceID, handle string) (string, error) {
	sourceID = strings.TrimSpace(sourceID)
	handle = strings.TrimSpace(handle)
	if sourceID == "" || handle == "" || strings.Contains(sourceID, ":") || strings.Contains(handle, ":") {
		return "", ErrBadPayload
	}
	s := ActionDownload + ":" + sourceID + ":" + handle
	if len(s) > MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(s))
	}
	return s, nil
}

// ParsePayload decodes raw callback data.
func ParsePayload(data string) (Payload, error) {
	data = strings.TrimSpace(data)
	switch data {
	case ActionVideo, ActionAudio:
		return Payload{Action: data}, nil
	}
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != ActionDownload || parts[1] == "" || parts[2] == "" {
		return Payload{}, fmt.Errorf("%w: %q", ErrBadPayload, data)
	}
	return Payload{Action: ActionDownload, SourceID: parts[1], Handle: parts[2]}, nil
}
