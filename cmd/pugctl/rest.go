package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// HealthCmd reports whether the server answers its health endpoint.
func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if !c.CheckHealth(cmd.Context()) {
				return fmt.Errorf("server at %s is not healthy", c.URL())
			}
			fmt.Println("ok")
			return nil
		},
	}
}

// LoginCmd authenticates with an API key or via the Google browser flow.
func LoginCmd() *cobra.Command {
	var google bool
	var teamName string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if google {
				if err := c.LoginWithGoogle(cmd.Context()); err != nil {
					return err
				}
			} else {
				apiKey := os.Getenv("PUG_API_KEY")
				if apiKey == "" {
					return fmt.Errorf("no API key: set PUG_API_KEY or use --google")
				}
				if err := c.Login(cmd.Context(), apiKey, teamName, ""); err != nil {
					return err
				}
			}
			fmt.Printf("Logged in. Token expires at %s.\n", c.TokenExpiresAt().Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&google, "google", false, "log in with a Google account via the browser")
	cmd.Flags().StringVar(&teamName, "team", "", "team to log in to")
	return cmd
}

// MeCmd prints the authenticated user.
func MeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAuthenticatedClient(cmd)
			if err != nil {
				return err
			}
			me, err := c.GetMe(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(me)
		},
	}
}

// TeamsCmd lists the teams the user belongs to.
func TeamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List your teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAuthenticatedClient(cmd)
			if err != nil {
				return err
			}
			teams, err := c.ListTeams(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(teams)
		},
	}
}

// PlayersCmd groups player management subcommands.
func PlayersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "players",
		Short: "Manage players",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List players",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAuthenticatedClient(cmd)
			if err != nil {
				return err
			}
			players, err := c.ListPlayers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(players)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <external-id>",
		Short: "Create a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAuthenticatedClient(cmd)
			if err != nil {
				return err
			}
			player, err := c.CreatePlayer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(player)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <pk>",
		Short: "Delete a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("player pk must be a number: %q", args[0])
			}
			c, err := newAuthenticatedClient(cmd)
			if err != nil {
				return err
			}
			if err := c.DeletePlayer(cmd.Context(), pk); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	})

	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
