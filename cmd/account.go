package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountListCmd(app),
		newAccountRenameCmd(app),
	)

	return cmd
}

type accountView struct {
	ID         domain.AccountID `json:"id"`
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	Configured bool             `json:"configured"`
}

func newAccountListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.service.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			views := make([]accountView, 0, len(accounts))
			for _, account := range accounts {
				views = append(views, accountView{
					ID:         account.ID,
					Name:       account.Name,
					Email:      account.Email,
					Configured: account.Auth.Configured(),
				})
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}

			for _, view := range views {
				auth := "no password"
				if view.Configured {
					auth = "password set"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", view.ID, view.Name, view.Email, auth)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newAccountRenameCmd(app *app) *cobra.Command {
	var accountID string
	var name string

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Change an account's display name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trimmed := strings.TrimSpace(name)
			if trimmed == "" {
				return fmt.Errorf("--name must not be empty")
			}

			return app.service.SetAccountName(cmd.Context(), domain.AccountID(accountID), trimmed)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
