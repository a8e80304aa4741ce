package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	statusadapter "github.com/bnema/umeng-cli/internal/adapters/render/status"
	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newThrottleCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "throttle",
		Short: "Inspect the shared request throttle",
	}

	cmd.AddCommand(newThrottleStatusCmd(app), newThrottleResetCmd(app))

	return cmd
}

type throttleView struct {
	Ceiling        int                   `json:"ceiling"`
	Window         string                `json:"window"`
	Anchor         domain.ThrottleAnchor `json:"anchor"`
	RequestCount   int                   `json:"request_count"`
	WindowResetAt  *time.Time            `json:"window_reset_at,omitempty"`
	LastRequestAt  *time.Time            `json:"last_request_at,omitempty"`
	CooldownActive bool                  `json:"cooldown_active"`
	CooldownEndsAt *time.Time            `json:"cooldown_ends_at,omitempty"`
	WaitSeconds    float64               `json:"wait_seconds"`
}

func newThrottleStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current window and any active cooldown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := app.throttle.Status(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(throttleView{
					Ceiling:        status.Policy.Ceiling,
					Window:         status.Policy.Window.String(),
					Anchor:         status.Policy.Anchor,
					RequestCount:   status.State.RequestCount,
					WindowResetAt:  status.State.WindowResetAt,
					LastRequestAt:  status.State.LastRequestAt,
					CooldownActive: status.State.CooldownActive,
					CooldownEndsAt: status.State.CooldownEndsAt,
					WaitSeconds:    status.Wait.Seconds(),
				})
			}

			rendered, err := statusadapter.Render(status, statusadapter.RenderOptions{Now: time.Now()})
			if err != nil {
				return fmt.Errorf("render throttle status: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newThrottleResetCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the persisted window and any active cooldown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.throttle.Reset(cmd.Context()); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "throttle state reset")
			return err
		},
	}
}
