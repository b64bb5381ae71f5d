package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/engine"
	"github.com/bamsammich/tally/internal/progress"
	"github.com/bamsammich/tally/internal/ui"
)

func newStatusCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show tasks on a running tally server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr") //nolint:errcheck // flag name is hardcoded
			if addr == "" {
				d, err := config.ReadServerDiscovery()
				if errors.Is(err, os.ErrNotExist) {
					return errors.New("no running server found; start one with 'tally serve' or pass --addr")
				}
				if err != nil {
					return fmt.Errorf("read server discovery: %w", err)
				}
				addr = d.Addr
			}
			return printStatus(cmd.Context(), stdout, "http://"+addr)
		},
	}
	cmd.Flags().String("addr", "", "server address (default: discovered from the running server)")
	return cmd
}

// apiTask is the subset of a task the status listing shows.
type apiTask struct {
	CreatedAt time.Time         `json:"created_at"`
	ID        string            `json:"id"`
	Root      string            `json:"root"`
	Status    engine.TaskStatus `json:"status"`
	Priority  engine.Priority   `json:"priority"`
	Progress  float64           `json:"progress"`
	Stats     struct {
		FilesScanned int64 `json:"files_scanned"`
		BytesScanned int64 `json:"bytes_scanned"`
		ErrorCount   int64 `json:"error_count"`
	} `json:"stats"`
}

type apiStats struct {
	Progress *progress.Statistics `json:"progress"`
	Tasks    engine.ManagerStats  `json:"tasks"`
}

func getJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printStatus(ctx context.Context, w io.Writer, base string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var st apiStats
	if err := getJSON(ctx, base+"/api/stats", &st); err != nil {
		return err
	}
	var tasks []apiTask
	if err := getJSON(ctx, base+"/api/tasks", &tasks); err != nil {
		return err
	}

	ts := st.Tasks
	fmt.Fprintf(w, "tasks: %d pending  %d running  %d paused  %d completed  %d cancelled  %d failed\n",
		ts.Pending, ts.Running, ts.Paused, ts.Completed, ts.Cancelled, ts.Failed)
	if p := st.Progress; p != nil && p.Tasks > 0 {
		fmt.Fprintf(w, "scanned: %s files  %s  %s\n",
			ui.FormatCount(p.Stats.FilesScanned), ui.FormatBytes(p.Stats.BytesScanned), ui.FormatItemRate(p.ItemsPerSecond))
	}
	if len(tasks) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tPROGRESS\tFILES\tSIZE\tERRORS\tCREATED\tROOT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(t.ID), t.Status, t.Priority,
			ui.FormatPercent(t.Progress),
			ui.FormatCount(t.Stats.FilesScanned),
			ui.FormatBytes(t.Stats.BytesScanned),
			t.Stats.ErrorCount,
			ui.FormatAge(t.CreatedAt),
			t.Root,
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
