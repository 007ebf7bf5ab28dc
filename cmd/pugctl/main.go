package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/puglabs/pug-go/client"
)

// Shared CLI flags
var (
	serverURL string
	verbose   bool
)

func main() {
	// Best effort; missing .env is fine
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "pugctl",
		Short: "Pug voice assistant CLI",
		Long:  `pugctl talks to a Pug server: account management over REST and live conversation sessions over websocket.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server URL (default: $PUG_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(HealthCmd())
	rootCmd.AddCommand(LoginCmd())
	rootCmd.AddCommand(MeCmd())
	rootCmd.AddCommand(TeamsCmd())
	rootCmd.AddCommand(PlayersCmd())
	rootCmd.AddCommand(PingCmd())
	rootCmd.AddCommand(TranscribeCmd())
	rootCmd.AddCommand(InteractCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// newClient builds a REST client from flags and environment.
func newClient() (*client.Client, error) {
	url := serverURL
	if url == "" {
		url = os.Getenv("PUG_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("no server URL: pass --url or set PUG_URL")
	}
	return client.New(url), nil
}

// newAuthenticatedClient builds a client and logs it in with $PUG_API_KEY.
func newAuthenticatedClient(cmd *cobra.Command) (*client.Client, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	apiKey := os.Getenv("PUG_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set PUG_API_KEY (or run pugctl login --google)")
	}
	if err := c.Login(cmd.Context(), apiKey, os.Getenv("PUG_TEAM"), ""); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}
