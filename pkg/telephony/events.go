package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event is one decoded control envelope from the provider media stream.
type Event struct {
	Event     string     `json:"event"`
	StreamSID string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *MediaInfo `json:"media,omitempty"`
	Stop      *StopInfo  `json:"stop,omitempty"`
	Mark      *MarkInfo  `json:"mark,omitempty"`
}

type StartInfo struct {
	CallSID    string `json:"callSid"`
	StreamSID  string `json:"streamSid"`
	AccountSID string `json:"accountSid"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type MediaInfo struct {
	Payload string `json:"payload"`
}

type StopInfo struct {
	CallSID string `json:"callSid"`
	Reason  string `json:"reason"`
}

type MarkInfo struct {
	Name string `json:"name"`
}

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
)

// Decode parses a raw provider frame. Malformed frames are an error for
// the caller to log and drop, never fatal.
func Decode(raw []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("decode media-stream frame: %w", err)
	}
	if evt.Event == "" {
		return Event{}, fmt.Errorf("media-stream frame missing event field")
	}
	return evt, nil
}

// AudioPayload base64-decodes the media payload of a media event.
func (e Event) AudioPayload() ([]byte, error) {
	if e.Media == nil {
		return nil, fmt.Errorf("media event without payload")
	}
	return base64.StdEncoding.DecodeString(e.Media.Payload)
}
