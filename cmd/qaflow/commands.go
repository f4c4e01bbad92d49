package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/qaflow/pkg/auth"
	"github.com/odvcencio/qaflow/pkg/runner"
	"github.com/odvcencio/qaflow/pkg/storage"
)

func (a *app) client() (*runner.Client, error) {
	return runner.NewClient(a.cfg.Client.ServerURL, a.cfg.Client.Token, nil)
}

func cloneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <test-case-id>",
		Short: "Copy a test case and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			cloned, err := client.Clone(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", cloned.ID, cloned.Name)
			return nil
		},
	}
}

func projectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			project, err := client.CreateProject(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", project.ID, project.Name)
			return nil
		},
	})
	return cmd
}

func tokenCmd(a *app) *cobra.Command {
	var (
		authID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create a user if needed and print an API token for it",
		Long: `Create a user in the local database if needed and print a signed API token.

This needs the same database and JWT secret as the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateServe(); err != nil {
				return err
			}
			if strings.TrimSpace(authID) == "" {
				return fmt.Errorf("--auth-id is required")
			}
			if ttl <= 0 {
				ttl = a.cfg.Auth.TokenTTL
			}

			store, err := storage.New(a.cfg.Storage.Database)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			user, err := store.EnsureUser(authID, email)
			if err != nil {
				return fmt.Errorf("ensure user: %w", err)
			}
			tokens := auth.NewTokenManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
			token, err := tokens.Issue(auth.Payload{UserID: user.ID, Subject: user.AuthID, Email: user.Email}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&authID, "auth-id", "", "Identity provider subject of the user")
	cmd.Flags().StringVar(&email, "email", "", "Email of the user")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from config)")
	return cmd
}
