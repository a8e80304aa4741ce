package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/bnema/umeng-cli/internal/adapters/umeng"
	"github.com/spf13/cobra"
)

type apiFlags struct {
	accountID string
	quiet     bool
}

type apiCall func(ctx context.Context, client *umeng.Client) (json.RawMessage, error)

var dataSeries = map[string]string{
	"new-users":    umeng.PathNewUsers,
	"active-users": umeng.PathActiveUsers,
	"launches":     umeng.PathLaunches,
	"durations":    umeng.PathDurations,
	"retentions":   umeng.PathRetentions,
}

func newAPICmd(app *app) *cobra.Command {
	flags := &apiFlags{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Call the Umeng analytics API through the shared throttle",
	}

	cmd.PersistentFlags().StringVar(&flags.accountID, "account", "", "Account ID (optional with a single account)")
	cmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "Do not show a progress spinner")

	cmd.AddCommand(
		newAPIGetCmd(app, flags),
		newAPIAuthorizeCmd(app, flags),
		newAPIAppsCmd(app, flags),
		newAPIAppsCountCmd(app, flags),
		newAPIDayCmd(app, flags, "today", "Today's figures for an app", (*umeng.Client).TodayData),
		newAPIDayCmd(app, flags, "yesterday", "Yesterday's figures for an app", (*umeng.Client).YesterdayData),
		newAPIBaseDataCmd(app, flags),
		newAPIDataCmd(app, flags),
		newAPISessionCmd(app, flags),
	)

	return cmd
}

func newAPIGetCmd(app *app, flags *apiFlags) *cobra.Command {
	var rawQuery []string
	var session bool

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET an arbitrary API path and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseQuery(rawQuery)
			if err != nil {
				return err
			}

			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				if session {
					return client.SessionGet(ctx, args[0], query)
				}
				return client.Get(ctx, args[0], query)
			})
		},
	}

	cmd.Flags().StringArrayVar(&rawQuery, "query", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&session, "session", false, "Use the web session endpoints and the session token")

	return cmd
}

func newAPIAuthorizeCmd(app *app, flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize",
		Short: "Exchange the account credentials for an API auth token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				token, err := client.Authorize(ctx)
				if err != nil {
					return nil, err
				}
				return json.Marshal(map[string]string{"auth_token": token})
			})
		},
	}
}

func newAPIAppsCmd(app *app, flags *apiFlags) *cobra.Command {
	var page int
	var perPage int
	var search string

	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the apps of the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				return client.Apps(ctx, page, perPage, search)
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&perPage, "per-page", 10, "Apps per page")
	cmd.Flags().StringVar(&search, "search", "", "Filter apps by name")

	return cmd
}

func newAPIAppsCountCmd(app *app, flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apps-count",
		Short: "Print the number of apps of the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				count, err := client.AppsCount(ctx)
				if err != nil {
					return nil, err
				}
				return json.Marshal(map[string]int{"count": count})
			})
		},
	}
}

func newAPIDayCmd(app *app, flags *apiFlags, use string, short string, call func(*umeng.Client, context.Context, string) (json.RawMessage, error)) *cobra.Command {
	var appKey string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				return call(client, ctx, appKey)
			})
		},
	}

	cmd.Flags().StringVar(&appKey, "app-key", "", "App key")
	_ = cmd.MarkFlagRequired("app-key")

	return cmd
}

func newAPIBaseDataCmd(app *app, flags *apiFlags) *cobra.Command {
	var appKey string
	var date string

	cmd := &cobra.Command{
		Use:   "base",
		Short: "Base figures of an app for one date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				return client.BaseData(ctx, appKey, date)
			})
		},
	}

	cmd.Flags().StringVar(&appKey, "app-key", "", "App key")
	cmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("app-key")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newAPIDataCmd(app *app, flags *apiFlags) *cobra.Command {
	var appKey string
	var dates umeng.DateRange
	var period string

	cmd := &cobra.Command{
		Use:   "data <" + strings.Join(sortedSeries(), "|") + ">",
		Short: "Dated series of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ok := dataSeries[args[0]]
			if !ok {
				return fmt.Errorf("unknown series %q", args[0])
			}
			dates.Period = umeng.Period(period)

			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				return client.AppData(ctx, path, appKey, dates)
			})
		},
	}

	cmd.Flags().StringVar(&appKey, "app-key", "", "App key")
	cmd.Flags().StringVar(&dates.Start, "start", "", "Start date as YYYY-MM-DD")
	cmd.Flags().StringVar(&dates.End, "end", "", "End date as YYYY-MM-DD")
	cmd.Flags().StringVar(&period, "period", "", "hourly|daily|weekly|monthly")
	_ = cmd.MarkFlagRequired("app-key")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func newAPISessionCmd(app *app, flags *apiFlags) *cobra.Command {
	var relatedID string

	views := map[string]func(*umeng.Client, context.Context, string) (json.RawMessage, error){
		"summary":   (*umeng.Client).SessionSummary,
		"retention": (*umeng.Client).SessionRetention,
		"trend":     (*umeng.Client).SessionTrend,
	}

	cmd := &cobra.Command{
		Use:       "session <summary|retention|trend>",
		Short:     "Web dashboard views that require the session token",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"summary", "retention", "trend"},
		RunE: func(cmd *cobra.Command, args []string) error {
			view, ok := views[args[0]]
			if !ok {
				return fmt.Errorf("unknown session view %q", args[0])
			}

			return runAPICall(cmd, app, flags, func(ctx context.Context, client *umeng.Client) (json.RawMessage, error) {
				return view(client, ctx, relatedID)
			})
		},
	}

	cmd.Flags().StringVar(&relatedID, "related-id", "", "Dashboard app id")
	_ = cmd.MarkFlagRequired("related-id")

	return cmd
}

func runAPICall(cmd *cobra.Command, app *app, flags *apiFlags, call apiCall) error {
	id, err := requireAccountID(cmd.Context(), app, flags.accountID)
	if err != nil {
		return err
	}

	client, err := app.apiClient(cmd.Context(), id)
	if err != nil {
		return err
	}

	var payload json.RawMessage
	fetch := func(ctx context.Context) error {
		result, err := call(ctx, client)
		payload = result
		return err
	}

	if flags.quiet {
		err = fetch(cmd.Context())
	} else {
		err = runAPICallSpinner(cmd.Context(), cmd.ErrOrStderr(), fetch, app.throttleCooldown)
	}
	if err != nil {
		return err
	}

	return writeJSON(cmd, payload)
}

func writeJSON(cmd *cobra.Command, payload json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}

	_, err := fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return err
}

func parseQuery(pairs []string) (url.Values, error) {
	query := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --query %q: want key=value", pair)
		}
		query.Add(strings.TrimSpace(key), value)
	}

	return query, nil
}

func sortedSeries() []string {
	names := make([]string, 0, len(dataSeries))
	for name := range dataSeries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
