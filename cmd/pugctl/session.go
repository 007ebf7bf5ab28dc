package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/puglabs/pug-go/client"
	"github.com/puglabs/pug-go/messages"
)

const callTimeout = 30 * time.Second

// withSession logs in, opens a realtime session, runs fn, and tears the
// session down afterwards.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *client.Session) error) error {
	c, err := newAuthenticatedClient(cmd)
	if err != nil {
		return err
	}
	s := c.Session()
	if err := s.Start(cmd.Context()); err != nil {
		return fmt.Errorf("connect session: %w", err)
	}
	defer s.Stop()
	return fn(cmd.Context(), s)
}

// PingCmd round-trips a ping over a live session.
func PingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Round-trip a ping over a live session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				ctx, cancel := context.WithTimeout(ctx, callTimeout)
				defer cancel()
				start := time.Now()
				fut, err := s.Ping()
				if err != nil {
					return err
				}
				if _, err := fut.Await(ctx); err != nil {
					return err
				}
				fmt.Printf("pong in %s\n", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// TranscribeCmd uploads an audio file and prints its transcription.
func TranscribeCmd() *cobra.Command {
	var language string
	var mimeType string

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				ctx, cancel := context.WithTimeout(ctx, callTimeout)
				defer cancel()
				addFut, err := s.AddAudio(audio, &messages.AudioConfig{MimeType: mimeType})
				if err != nil {
					return err
				}
				if _, err := addFut.Await(ctx); err != nil {
					return fmt.Errorf("add audio: %w", err)
				}
				fut, err := s.Transcribe(language)
				if err != nil {
					return err
				}
				text, err := fut.Await(ctx)
				if err != nil {
					return fmt.Errorf("transcribe: %w", err)
				}
				fmt.Println(text)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&language, "language", "en", "language code")
	cmd.Flags().StringVar(&mimeType, "mime-type", "audio/wav", "audio mime type")
	return cmd
}

// InteractCmd runs one text interaction turn and streams the reply.
func InteractCmd() *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   "interact --text <message>",
		Short: "Run one interaction turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text is required")
			}
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				stream, err := s.Interact(messages.InteractRequest{Text: text})
				if err != nil {
					return err
				}
				defer stream.CloseSilently()
				for {
					msg, err := stream.Recv(ctx)
					if errors.Is(err, io.EOF) {
						fmt.Println()
						return nil
					}
					if err != nil {
						return err
					}
					ev, err := messages.DecodeInteractEvent(msg)
					if err != nil {
						return err
					}
					switch ev.Event {
					case messages.EventText:
						fmt.Print(ev.Text)
					case messages.EventInteractionError:
						return fmt.Errorf("interaction failed: %s", ev.Error)
					case messages.EventInteractionComplete:
						fmt.Println()
						return nil
					}
				}
			})
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "user message")
	return cmd
}
