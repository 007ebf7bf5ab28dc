// Package messages defines the typed payloads of the Pug protocol. Every
// payload is discriminated by a "kind" string; the engine itself treats
// payloads as opaque, so encoding and decoding happen here, at the edges.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/puglabs/pug-go/rpc"
)

// Request kinds. Stream and request payloads share this namespace.
const (
	KindAuthenticate      = "authenticate"
	KindPing              = "ping"
	KindSetServiceProfile = "set_service_profile"
	KindAddAudio          = "add_audio"
	KindClearAudio        = "clear_audio"
	KindCheckTurn         = "check_turn"
	KindTranscribe        = "transcribe"
	KindAddKeywords       = "add_keywords"
	KindRemoveKeywords    = "remove_keywords"
	KindDetectKeywords    = "detect_keywords"
	KindAddSpeaker        = "add_speaker"
	KindRemoveSpeakers    = "remove_speakers"
	KindDetectSpeakers    = "detect_speakers"
	KindSetConfiguration  = "set_configuration"
	KindGetConfiguration  = "get_configuration"
	KindRenderPrompt      = "render_prompt"
	KindInteract          = "interact"
	KindInterrupt         = "interrupt"
	KindError             = "error"
)

// Envelope carries the timing fields present on every request and
// response. The kind itself travels on the frame, not here.
type Envelope struct {
	ClientStartTime *time.Time `json:"client_start_time,omitempty"`
	ServerStartTime *time.Time `json:"server_start_time,omitempty"`
}

// ResponseEnvelope adds the server-side completion timestamp.
type ResponseEnvelope struct {
	Envelope
	ServerEndTime *time.Time `json:"server_end_time,omitempty"`
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

type AuthenticateRequest struct {
	Envelope
	AccessToken string `json:"access_token"`
}

type PingRequest struct {
	Envelope
}

type SetServiceProfileRequest struct {
	Envelope
	ServiceProfile string `json:"service_profile"`
}

type AddAudioRequest struct {
	Envelope
	Audio  Base64       `json:"audio"`
	Config *AudioConfig `json:"config,omitempty"`
}

type ClearAudioRequest struct {
	Envelope
}

type CheckTurnRequest struct {
	Envelope
}

type TranscribeRequest struct {
	Envelope
	LanguageCode string `json:"language_code"`
}

type AddKeywordsRequest struct {
	Envelope
	Keywords []string `json:"keywords"`
}

type RemoveKeywordsRequest struct {
	Envelope
	Keywords []string `json:"keywords"`
}

type DetectKeywordsRequest struct {
	Envelope
}

type AddSpeakerRequest struct {
	Envelope
	Speaker string `json:"speaker"`
	Audio   Base64 `json:"audio"`
}

type RemoveSpeakersRequest struct {
	Envelope
	Speakers []string `json:"speakers"`
}

type DetectSpeakersRequest struct {
	Envelope
}

type SetConfigurationRequest struct {
	Envelope
	Config Configuration `json:"config"`
}

type GetConfigurationRequest struct {
	Envelope
}

type RenderPromptRequest struct {
	Envelope
	Context map[string]any `json:"context"`
}

// InteractRequest opens an interaction turn. Sent as the first message on
// an interaction stream, not as a correlated request.
type InteractRequest struct {
	Envelope
	AudioOutput        bool           `json:"audio_output"`
	Text               string         `json:"text"`
	Context            map[string]any `json:"context"`
	OnInput            []string       `json:"on_input"`
	OnOutput           []string       `json:"on_output"`
	OnInputNonBlocking []string       `json:"on_input_non_blocking"`
	LanguageCode       string         `json:"language_code,omitempty"`
}

// InterruptRequest cuts short a running interaction. TargetUID names the
// interaction stream so a stale interrupt cannot hit the wrong turn.
type InterruptRequest struct {
	Envelope
	TargetUID   string `json:"target_uid"`
	AtCharacter *int   `json:"at_character,omitempty"`
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

type AuthenticateResponse struct {
	ResponseEnvelope
}

type PingResponse struct {
	ResponseEnvelope
}

type SetServiceProfileResponse struct {
	ResponseEnvelope
}

type AddAudioResponse struct {
	ResponseEnvelope
}

type ClearAudioResponse struct {
	ResponseEnvelope
}

type CheckTurnResponse struct {
	ResponseEnvelope
	IsUserStillSpeaking bool `json:"is_user_still_speaking"`
}

type TranscribeResponse struct {
	ResponseEnvelope
	Text string `json:"text"`
}

type AddKeywordsResponse struct {
	ResponseEnvelope
}

type RemoveKeywordsResponse struct {
	ResponseEnvelope
}

type DetectKeywordsResponse struct {
	ResponseEnvelope
	Keywords []string `json:"keywords"`
}

type AddSpeakerResponse struct {
	ResponseEnvelope
}

type RemoveSpeakersResponse struct {
	ResponseEnvelope
}

type DetectSpeakersResponse struct {
	ResponseEnvelope
	Speakers []string `json:"speakers"`
}

type SetConfigurationResponse struct {
	ResponseEnvelope
}

type GetConfigurationResponse struct {
	ResponseEnvelope
	Config Configuration `json:"config"`
}

type RenderPromptResponse struct {
	ResponseEnvelope
	Prompt string `json:"prompt"`
}

type ErrorResponse struct {
	ResponseEnvelope
	Error string `json:"error"`
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// responseTypes is the static registration table from response kind to
// payload factory. New payloads are added here explicitly.
var responseTypes = map[string]func() any{
	KindAuthenticate:      func() any { return &AuthenticateResponse{} },
	KindPing:              func() any { return &PingResponse{} },
	KindSetServiceProfile: func() any { return &SetServiceProfileResponse{} },
	KindAddAudio:          func() any { return &AddAudioResponse{} },
	KindClearAudio:        func() any { return &ClearAudioResponse{} },
	KindCheckTurn:         func() any { return &CheckTurnResponse{} },
	KindTranscribe:        func() any { return &TranscribeResponse{} },
	KindAddKeywords:       func() any { return &AddKeywordsResponse{} },
	KindRemoveKeywords:    func() any { return &RemoveKeywordsResponse{} },
	KindDetectKeywords:    func() any { return &DetectKeywordsResponse{} },
	KindAddSpeaker:        func() any { return &AddSpeakerResponse{} },
	KindRemoveSpeakers:    func() any { return &RemoveSpeakersResponse{} },
	KindDetectSpeakers:    func() any { return &DetectSpeakersResponse{} },
	KindSetConfiguration:  func() any { return &SetConfigurationResponse{} },
	KindGetConfiguration:  func() any { return &GetConfigurationResponse{} },
	KindRenderPrompt:      func() any { return &RenderPromptResponse{} },
	KindError:             func() any { return &ErrorResponse{} },
}

// DecodeResponse decodes a response payload frame into its registered
// concrete type, picked by the frame's "kind".
func DecodeResponse(f rpc.Frame) (any, error) {
	kind, _ := f["kind"].(string)
	factory, ok := responseTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown response kind %q", kind)
	}
	payload := factory()
	if err := Decode(f, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// --------------------------------------------------------------------------
// Frame conversion
// --------------------------------------------------------------------------

// Fields flattens a payload struct into a protocol frame body through its
// JSON encoding. Nil-valued optional fields are omitted.
func Fields(payload any) (rpc.Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var f rpc.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return f, nil
}

// Decode populates a typed payload from a frame body.
func Decode(f rpc.Frame, payload any) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
