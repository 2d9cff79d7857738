package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbergkamp/ratchet/internal/control"
	"github.com/mbergkamp/ratchet/internal/core/config"
)

var statusSession string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current progress of all running sessions",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "show per-item detail for one session")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	base := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	if statusSession != "" {
		printSessionDetail(client, base, statusSession)
		return
	}

	resp, err := client.Get(base + "/sessions")
	if err != nil {
		slog.Error("Failed to reach status server", "url", base, "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var sums []control.SessionSummary
	if err := json.NewDecoder(resp.Body).Decode(&sums); err != nil {
		slog.Error("Failed to decode status response", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SESSION\tTOTAL\tCOMPLETE\tFAILED\tREVIEW\tQUEUED\tSTATE")
	for _, s := range sums {
		state := "running"
		switch {
		case s.ResourceUnusable:
			state = "resource unusable"
		case s.Finished:
			state = "finished"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Name, s.Counts.Total, s.Counts.Complete, s.Counts.Failed,
			s.Counts.NeedsReview, s.Counts.Queued, state)
	}
	_ = w.Flush()
}

func printSessionDetail(client *http.Client, base, name string) {
	resp, err := client.Get(base + "/sessions/" + name)
	if err != nil {
		slog.Error("Failed to reach status server", "url", base, "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Error("Unknown session", "session", name)
		os.Exit(1)
	}

	var view control.SessionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		slog.Error("Failed to decode status response", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "POS\tKEY\tSTATUS\tRETRIES\tERROR")
	for _, it := range view.Session.Items {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			it.Position, it.Key, it.Status, it.RetryCount, it.ErrorMsg)
	}
	_ = w.Flush()

	t := view.Timing
	fmt.Printf("\ntimeout %s (samples %d, mean %s, success rate %.0f%%)\n",
		t.CurrentTimeout.Round(time.Millisecond),
		t.Count,
		t.Mean.Round(time.Millisecond),
		t.SuccessRate*100,
	)
}
