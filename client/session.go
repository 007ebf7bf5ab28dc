package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/puglabs/pug-go/messages"
	"github.com/puglabs/pug-go/rpc"
)

// Unit is the result of calls whose response carries no payload.
type Unit = struct{}

// Session is the realtime conversation API over one RPC connection. All
// calls return futures; none of them block beyond enqueueing the request.
type Session struct {
	rpc         *rpc.RPC
	accessToken string
	logger      *slog.Logger
}

// NewSession creates a session over an explicit channel, for callers that
// need their own transport. Most callers use Client.Session instead.
func NewSession(accessToken string, channel rpc.Channel, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		rpc:         rpc.New("server", channel, rpc.WithLogger(logger)),
		accessToken: accessToken,
		logger:      logger.With("component", "pug-session"),
	}
}

// RPC exposes the underlying engine, for advanced callers that need raw
// streams or debug frames.
func (s *Session) RPC() *rpc.RPC { return s.rpc }

// Start connects the session. When an access token is present an
// authenticate request is fired immediately without awaiting it: the
// server processes it before anything else sent on the connection.
func (s *Session) Start(ctx context.Context) error {
	if err := s.rpc.Start(ctx); err != nil {
		return err
	}
	if s.accessToken != "" {
		if _, err := s.Authenticate(); err != nil {
			s.rpc.Close()
			return err
		}
	}
	return nil
}

// Stop closes the session and its connection.
func (s *Session) Stop() error {
	return s.rpc.Close()
}

func (s *Session) makeRequest(kind string, payload any) (*rpc.ResponseFuture, error) {
	fields, err := messages.Fields(payload)
	if err != nil {
		return nil, err
	}
	fields["client_start_time"] = time.Now().UTC().Format(time.RFC3339Nano)
	return s.rpc.MakeRequest(kind, fields)
}

func unitRequest(s *Session, kind string, payload any) (*rpc.Future[Unit], error) {
	fut, err := s.makeRequest(kind, payload)
	if err != nil {
		return nil, err
	}
	return rpc.Transform(fut, func(rpc.Frame) (Unit, error) {
		return Unit{}, nil
	}), nil
}

// decodeRequest issues a request and decodes the response through the
// static payload registry, projecting the decoded payload to the caller's
// result type.
func decodeRequest[R, T any](s *Session, kind string, payload any, project func(*R) T) (*rpc.Future[T], error) {
	fut, err := s.makeRequest(kind, payload)
	if err != nil {
		return nil, err
	}
	return rpc.Transform(fut, func(f rpc.Frame) (T, error) {
		var zero T
		decoded, err := messages.DecodeResponse(f)
		if err != nil {
			return zero, err
		}
		typed, ok := decoded.(*R)
		if !ok {
			return zero, errors.New("unexpected response payload type")
		}
		return project(typed), nil
	}), nil
}

// Authenticate presents the session's access token to the server.
func (s *Session) Authenticate() (*rpc.Future[Unit], error) {
	if s.accessToken == "" {
		return nil, errors.New("access token is required")
	}
	return unitRequest(s, messages.KindAuthenticate, messages.AuthenticateRequest{AccessToken: s.accessToken})
}

// Ping checks connection liveness end to end.
func (s *Session) Ping() (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindPing, messages.PingRequest{})
}

// SetServiceProfile selects the server-side service profile.
func (s *Session) SetServiceProfile(serviceProfile string) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindSetServiceProfile, messages.SetServiceProfileRequest{ServiceProfile: serviceProfile})
}

// SetConfiguration replaces the interaction configuration.
func (s *Session) SetConfiguration(config messages.Configuration) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindSetConfiguration, messages.SetConfigurationRequest{Config: config})
}

// GetConfiguration fetches the interaction configuration.
func (s *Session) GetConfiguration() (*rpc.Future[messages.Configuration], error) {
	return decodeRequest(s, messages.KindGetConfiguration, messages.GetConfigurationRequest{},
		func(resp *messages.GetConfigurationResponse) messages.Configuration { return resp.Config })
}

// RenderPrompt renders the configured prompt template over context.
func (s *Session) RenderPrompt(context map[string]any) (*rpc.Future[string], error) {
	return decodeRequest(s, messages.KindRenderPrompt, messages.RenderPromptRequest{Context: context},
		func(resp *messages.RenderPromptResponse) string { return resp.Prompt })
}

// AddAudio appends captured audio to the session's input buffer. config is
// required on the first chunk and optional afterwards.
func (s *Session) AddAudio(audio []byte, config *messages.AudioConfig) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindAddAudio, messages.AddAudioRequest{Audio: audio, Config: config})
}

// ClearAudio drops the session's buffered input audio.
func (s *Session) ClearAudio() (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindClearAudio, messages.ClearAudioRequest{})
}

// CheckTurn reports whether the user is still speaking.
func (s *Session) CheckTurn() (*rpc.Future[bool], error) {
	return decodeRequest(s, messages.KindCheckTurn, messages.CheckTurnRequest{},
		func(resp *messages.CheckTurnResponse) bool { return resp.IsUserStillSpeaking })
}

// Transcribe transcribes the buffered input audio.
func (s *Session) Transcribe(languageCode string) (*rpc.Future[string], error) {
	if languageCode == "" {
		languageCode = "en"
	}
	return decodeRequest(s, messages.KindTranscribe, messages.TranscribeRequest{LanguageCode: languageCode},
		func(resp *messages.TranscribeResponse) string { return resp.Text })
}

// AddKeywords extends the keyword spotting list.
func (s *Session) AddKeywords(keywords []string) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindAddKeywords, messages.AddKeywordsRequest{Keywords: keywords})
}

// RemoveKeywords shrinks the keyword spotting list.
func (s *Session) RemoveKeywords(keywords []string) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindRemoveKeywords, messages.RemoveKeywordsRequest{Keywords: keywords})
}

// DetectKeywords runs keyword spotting on the buffered input audio.
func (s *Session) DetectKeywords() (*rpc.Future[[]string], error) {
	return decodeRequest(s, messages.KindDetectKeywords, messages.DetectKeywordsRequest{},
		func(resp *messages.DetectKeywordsResponse) []string { return resp.Keywords })
}

// AddSpeaker enrolls a speaker from a reference audio sample.
func (s *Session) AddSpeaker(speaker string, audio []byte) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindAddSpeaker, messages.AddSpeakerRequest{Speaker: speaker, Audio: audio})
}

// RemoveSpeakers drops enrolled speakers.
func (s *Session) RemoveSpeakers(speakers []string) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindRemoveSpeakers, messages.RemoveSpeakersRequest{Speakers: speakers})
}

// DetectSpeakers runs speaker identification on the buffered input audio.
func (s *Session) DetectSpeakers() (*rpc.Future[[]string], error) {
	return decodeRequest(s, messages.KindDetectSpeakers, messages.DetectSpeakersRequest{},
		func(resp *messages.DetectSpeakersResponse) []string { return resp.Speakers })
}

// Interact opens the interaction stream and sends the opening request on
// it. The caller reads responses off the returned stream until io.EOF and
// closes it when bailing out early.
func (s *Session) Interact(req messages.InteractRequest) (*rpc.Stream, error) {
	stream := s.rpc.OpenStream()
	fields, err := messages.Fields(req)
	if err != nil {
		stream.CloseSilently()
		return nil, err
	}
	fields["client_start_time"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := stream.Send(messages.KindInteract, fields); err != nil {
		stream.CloseSilently()
		return nil, err
	}
	return stream, nil
}

// Interrupt cuts short the interaction running on the given stream. The
// server stops producing output; the stream still delivers its closing
// messages.
func (s *Session) Interrupt(stream *rpc.Stream, atCharacter *int) (*rpc.Future[Unit], error) {
	return unitRequest(s, messages.KindInterrupt, messages.InterruptRequest{TargetUID: stream.UID(), AtCharacter: atCharacter})
}
