package messages

import (
	"fmt"

	"github.com/puglabs/pug-go/rpc"
)

// Events carried on interaction streams.
const (
	EventInteractionStarted  = "interaction_started"
	EventText                = "text"
	EventTextComplete        = "text_complete"
	EventAudio               = "audio"
	EventAudioComplete       = "audio_complete"
	EventSafetyPolicy        = "safety_policy"
	EventData                = "data"
	EventInteractionError    = "interaction_error"
	EventInteractionComplete = "interaction_complete"
)

// InteractEvent is one message on an interaction stream. Event selects
// which of the payload fields is meaningful: Text for text events, Audio
// for audio events, Data for utility results, Error for interaction_error.
type InteractEvent struct {
	ResponseEnvelope
	Event string         `json:"event"`
	Text  string         `json:"text,omitempty"`
	Audio Base64         `json:"audio,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// DecodeInteractEvent decodes a stream frame received during an
// interaction.
func DecodeInteractEvent(f rpc.Frame) (*InteractEvent, error) {
	kind, _ := f["kind"].(string)
	if kind != KindInteract {
		return nil, fmt.Errorf("unexpected stream message kind %q", kind)
	}
	ev := &InteractEvent{}
	if err := Decode(f, ev); err != nil {
		return nil, err
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("interact message carries no event")
	}
	return ev, nil
}
