package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/codingpal/agent/internal/app"
	"github.com/codingpal/agent/internal/procmon"
	"github.com/codingpal/agent/internal/store"
)

// cpuWarmup is the window between the priming sample and the reported one.
// CPU percentages are deltas between refreshes of the same process handle.
var cpuWarmup = time.Second

// processSampler is the part of *app.App the one-shot commands sample.
type processSampler interface {
	PollIDEProcesses(ctx context.Context) ([]procmon.Observation, error)
	ProcessStats(ctx context.Context) (procmon.Stats, error)
}

var (
	historyLimit     int
	historyProcesses bool

	optModel       string
	optTemperature float64
	optMaxTokens   int
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running IDE processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		obs, err := warmPoll(cmd.Context(), a)
		if err != nil {
			return err
		}
		renderObservations(cmd.OutOrStdout(), obs)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show total CPU and memory of running IDE processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := warmStats(cmd.Context(), a)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Tracked processes: %d\n", stats.TrackedProcessCount)
		fmt.Fprintf(out, "Total CPU:         %.1f%%\n", stats.TotalCPUPercent)
		fmt.Fprintf(out, "Total memory:      %s\n", humanize.IBytes(uint64(stats.TotalMemoryMB*1024*1024)))
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "List stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		settings, err := a.ListSettings(cmd.Context())
		if err != nil {
			return err
		}
		table := newTable(cmd.OutOrStdout(), "Key", "Value", "Updated")
		for _, s := range settings {
			value := s.Value
			if s.Key == store.SettingAPIKey && value != "" {
				value = "********"
			}
			table.Append([]string{s.Key, value, humanize.Time(s.UpdatedAt)})
		}
		table.Render()
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		value, ok, err := a.GetSetting(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("setting %q not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		return a.SetSetting(cmd.Context(), args[0], args[1])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show optimization history, or process history with --processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if historyProcesses {
			history, err := a.ProcessHistory(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			renderProcessHistory(cmd.OutOrStdout(), history)
			return nil
		}

		records, err := a.OptimizationHistory(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		table := newTable(cmd.OutOrStdout(), "ID", "Prompt", "Tokens", "Time", "Created")
		for _, r := range records {
			table.Append([]string{
				strconv.FormatInt(r.ID, 10),
				truncate(r.OriginalPrompt, 48),
				strconv.Itoa(r.TokensUsed),
				(time.Duration(r.ProcessingTimeMs) * time.Millisecond).String(),
				humanize.Time(r.CreatedAt),
			})
		}
		table.Render()
		return nil
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize <prompt>",
	Short: "Optimize a prompt with the configured API key",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := requireOptimizer(a); err != nil {
			return err
		}
		res, err := a.OptimizePrompt(cmd.Context(), strings.Join(args, " "), app.OptimizationConfig{
			Model:       optModel,
			Temperature: optTemperature,
			MaxTokens:   optMaxTokens,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Optimized)
		fmt.Fprintln(out)
		for _, imp := range res.Improvements {
			fmt.Fprintf(out, "  - %s\n", imp)
		}
		fmt.Fprintf(out, "\n%d tokens, confidence %.2f, id %s\n", res.TokensUsed, res.Confidence, res.ID)
		return nil
	},
}

var optimizeInitCmd = &cobra.Command{
	Use:   "init <api-key>",
	Short: "Verify an API key and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ok, err := a.InitializeOptimizer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("the optimization API rejected the key")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "API key verified and stored.")
		return nil
	},
}

var folderCmd = &cobra.Command{
	Use:   "folder <name>",
	Short: "Create a task folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		path, err := a.CreateTaskFolder(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func addCommands(root *cobra.Command) {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries, 0 for all")
	historyCmd.Flags().BoolVar(&historyProcesses, "processes", false, "show exited IDE processes instead of prompts")

	optimizeCmd.Flags().StringVar(&optModel, "model", "", "model override")
	optimizeCmd.Flags().Float64Var(&optTemperature, "temperature", 0, "temperature override")
	optimizeCmd.Flags().IntVar(&optMaxTokens, "max-tokens", 0, "max tokens override")
	optimizeCmd.AddCommand(optimizeInitCmd)

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	root.AddCommand(psCmd)
	root.AddCommand(statsCmd)
	root.AddCommand(settingsCmd)
	root.AddCommand(historyCmd)
	root.AddCommand(optimizeCmd)
	root.AddCommand(folderCmd)
}

// warmPoll polls twice, cpuWarmup apart. CPU usage is a delta between
// samples, so a single poll from a fresh process reports zero.
// primeCPU takes a first sample and waits cpuWarmup, so the next refresh
// measures CPU over the whole window.
func primeCPU(ctx context.Context, s processSampler) error {
	if _, err := s.PollIDEProcesses(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cpuWarmup):
		return nil
	}
}

// requireOptimizer turns a missing API key into an actionable message.
func requireOptimizer(r interface{ OptimizerReady() bool }) error {
	if !r.OptimizerReady() {
		return fmt.Errorf("no API key stored; run \"codingpal optimize init <api-key>\" first")
	}
	return nil
}

func warmPoll(ctx context.Context, s processSampler) ([]procmon.Observation, error) {
	if err := primeCPU(ctx, s); err != nil {
		return nil, err
	}
	return s.PollIDEProcesses(ctx)
}

// warmStats refreshes only once after the warm-up; an extra poll in between
// would shrink the CPU window to a few milliseconds.
func warmStats(ctx context.Context, s processSampler) (procmon.Stats, error) {
	if err := primeCPU(ctx, s); err != nil {
		return procmon.Stats{}, err
	}
	return s.ProcessStats(ctx)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	return table
}

func renderObservations(w io.Writer, obs []procmon.Observation) {
	if len(obs) == 0 {
		fmt.Fprintln(w, "No IDE processes running.")
		return
	}
	table := newTable(w, "PID", "Name", "CPU", "Memory", "Path")
	for _, o := range obs {
		table.Append([]string{
			strconv.FormatUint(uint64(o.PID), 10),
			o.Name,
			fmt.Sprintf("%.1f%%", o.CPUUsage),
			humanize.IBytes(o.MemoryUsage),
			o.Path,
		})
	}
	table.Render()
}

func renderProcessHistory(w io.Writer, history []store.ProcessHistory) {
	table := newTable(w, "PID", "Name", "Peak CPU", "Peak Memory", "Ran", "Exited")
	for _, h := range history {
		ran, exited := "-", "-"
		if h.EndTime != nil {
			ran = h.EndTime.Sub(h.StartTime).Round(time.Second).String()
			exited = humanize.Time(*h.EndTime)
		}
		table.Append([]string{
			strconv.FormatUint(uint64(h.PID), 10),
			h.ProcessName,
			fmt.Sprintf("%.1f%%", h.MaxCPUUsage),
			humanize.IBytes(h.MaxMemoryUsage),
			ran,
			exited,
		})
	}
	table.Render()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
