package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parla/internal/history"
	"github.com/MrWong99/parla/internal/session"
	"github.com/MrWong99/parla/internal/tools"
)

var (
	addConfig   string
	addDisabled bool
	statsWindow time.Duration
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Administer the tools of a running server",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp struct {
			Tools []tools.Descriptor `json:"tools"`
		}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodGet, "/v1/tools", nil, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFACTORY\tENABLED\tCONFIG")
		for _, d := range resp.Tools {
			cfg, _ := json.Marshal(d.Config)
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", d.Name, d.Factory, d.Enabled, cfg)
		}
		return tw.Flush()
	},
}

var toolsActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List the enabled tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp struct {
			Active []string `json:"active"`
		}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodGet, "/v1/tools/active", nil, &resp); err != nil {
			return err
		}
		for _, name := range resp.Active {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var toolsAddCmd = &cobra.Command{
	Use:   "add NAME FACTORY",
	Short: "Register a tool and persist it",
	Long: `Register a tool built by FACTORY under NAME. Settings are passed as a JSON
object, for example:

  parla tools add weather_tool weather --config '{"url":"http://localhost:9000/weather"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := tools.Spec{Name: args[0], Factory: args[1], Enabled: !addDisabled}
		if addConfig != "" {
			if err := json.Unmarshal([]byte(addConfig), &spec.Config); err != nil {
				return fmt.Errorf("--config: %w", err)
			}
		}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodPost, "/v1/tools", spec, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", spec.Name)
		return nil
	},
}

// toolActionCmd builds a single-name command that calls method on path(name).
func toolActionCmd(use, short, method, verb string, path func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(apiAddr).do(cmd.Context(), method, path(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
			return nil
		},
	}
}

var toolsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload all tools from the tool store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp struct {
			Added   []string `json:"added"`
			Removed []string `json:"removed"`
			Changed []string `json:"changed"`
			Tools   []string `json:"tools"`
			Errors  []string `json:"errors"`
		}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodPost, "/v1/tools/reload", nil, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tools:   %s\n", strings.Join(resp.Tools, ", "))
		fmt.Fprintf(out, "added:   %s\n", strings.Join(resp.Added, ", "))
		fmt.Fprintf(out, "removed: %s\n", strings.Join(resp.Removed, ", "))
		fmt.Fprintf(out, "changed: %s\n", strings.Join(resp.Changed, ", "))
		for _, e := range resp.Errors {
			fmt.Fprintf(out, "error:   %s\n", e)
		}
		return nil
	},
}

// ── Stats and feedback ───────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run statistics of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := "/v1/stats"
		if statsWindow > 0 {
			path += "?window=" + statsWindow.String()
		}
		var st history.Stats
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodGet, path, nil, &st); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "runs:         %d (%d succeeded, %.1f%%)\n", st.Total, st.Succeeded, st.SuccessRate*100)
		fmt.Fprintf(out, "latency:      avg %s, p95 %s\n", st.AvgLatency.Round(time.Millisecond), st.P95Latency.Round(time.Millisecond))
		fmt.Fprintf(out, "ratings:      %d (avg %.2f)\n", st.Ratings, st.AvgScore)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\nTOOL\tRUNS")
		for name, n := range st.ToolUsage {
			fmt.Fprintf(tw, "%s\t%d\n", name, n)
		}
		fmt.Fprintln(tw, "\nINTENT\tRUNS")
		for name, n := range st.Intents {
			fmt.Fprintf(tw, "%s\t%d\n", name, n)
		}
		return tw.Flush()
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback RUN_ID SCORE [COMMENT]",
	Short: "Rate a run from 1 to 5",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("score %q is not a number", args[1])
		}
		fb := history.Feedback{RunID: args[0], Score: score}
		if len(args) == 3 {
			fb.Comment = args[2]
		}
		if err := fb.Validate(); err != nil {
			return err
		}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodPost, "/v1/feedback", fb, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "feedback recorded")
		return nil
	},
}

// ── Sessions ─────────────────────────────────────────────────────────────────

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the connected clients of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp struct {
			Sessions []session.Info `json:"sessions"`
		}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodGet, "/v1/sessions", nil, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCONNECTED\tLAST ACTIVE\tRUNS")
		for _, s := range resp.Sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Connected.Format(time.DateTime), s.LastActive.Format(time.DateTime), s.Runs)
		}
		return tw.Flush()
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast MESSAGE",
	Short: "Send a notification to every connected client",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Delivered int `json:"delivered"`
		}
		body := map[string]string{"message": strings.Join(args, " ")}
		if err := newAPIClient(apiAddr).do(cmd.Context(), http.MethodPost, "/v1/broadcast", body, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d client(s)\n", resp.Delivered)
		return nil
	},
}

func init() {
	toolsAddCmd.Flags().StringVar(&addConfig, "config", "", "tool settings as a JSON object")
	toolsAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "register without activating")
	statsCmd.Flags().DurationVar(&statsWindow, "window", 0, "only count runs within this window, e.g. 24h")

	toolsCmd.AddCommand(
		toolsListCmd,
		toolsActiveCmd,
		toolsAddCmd,
		toolActionCmd("remove", "Unregister a tool and persist the change", http.MethodDelete, "removed",
			func(n string) string { return toolPath(n) }),
		toolActionCmd("enable", "Activate a registered tool", http.MethodPost, "enabled",
			func(n string) string { return toolPath(n, "enable") }),
		toolActionCmd("disable", "Deactivate a tool without unregistering it", http.MethodPost, "disabled",
			func(n string) string { return toolPath(n, "disable") }),
		toolsReloadCmd,
	)
	rootCmd.AddCommand(toolsCmd, statsCmd, feedbackCmd, sessionsCmd, broadcastCmd)
}
