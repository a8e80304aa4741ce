package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and refresh the cached session token",
	}

	cmd.AddCommand(newTokenGetCmd(app), newTokenShowCmd(app))

	return cmd
}

func newTokenGetCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a usable session token, running the passport handshake if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := requireAccountID(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}

			creds, err := app.service.Credentials(cmd.Context(), id)
			if err != nil {
				return err
			}

			token, err := app.credentials.GetToken(cmd.Context(), creds.Email, creds.Password)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (optional with a single account)")

	return cmd
}

type tokenView struct {
	Identity  string     `json:"identity"`
	Cached    bool       `json:"cached"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Usable    bool       `json:"usable"`
}

func newTokenShowCmd(app *app) *cobra.Command {
	var accountID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the cached session token without refreshing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := requireAccountID(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}

			account, err := app.service.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}

			record, found, err := app.credentials.Peek(cmd.Context(), account.Email)
			if err != nil {
				return err
			}

			view := tokenView{
				Identity:  account.Email,
				Cached:    found,
				Token:     maskToken(record.Token),
				ExpiresAt: record.ExpiresAt,
				Usable:    record.Usable(time.Now()),
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "identity: %s\n", view.Identity)
			if !view.Cached {
				_, _ = fmt.Fprintln(out, "token: none cached")
				return nil
			}

			expires := "unknown"
			if view.ExpiresAt != nil {
				expires = view.ExpiresAt.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(out, "token: %s\n", view.Token)
			_, _ = fmt.Fprintf(out, "expires_at: %s\n", expires)
			_, _ = fmt.Fprintf(out, "usable: %t\n", view.Usable)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (optional with a single account)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}

	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
