package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	syncsvc "github.com/TheMichaelB/shopsync/internal/services/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, storage and queue state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var statusAck bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusAck, "ack", false,
		"Acknowledge a reported drop of queued edits")
}

type instanceStatus struct {
	InstanceID string                `json:"instance_id"`
	Pending    int                   `json:"pending"`
	State      syncsvc.InstanceState `json:"state"`
	CachedAt   time.Time             `json:"cached_at"`
}

type statusReport struct {
	Online              bool             `json:"online"`
	PersistenceDegraded bool             `json:"persistence_degraded"`
	HadSyncDrop         bool             `json:"had_sync_drop"`
	Backend             string           `json:"backend"`
	Queued              int              `json:"queued"`
	Instances           []instanceStatus `json:"instances"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusAck {
		apiClient.Monitor.AcknowledgeSyncDrop()
	}

	status := apiClient.Monitor.Status()
	report := statusReport{
		Online:              status.Online,
		PersistenceDegraded: status.PersistenceDegraded,
		HadSyncDrop:         status.HadSyncDrop,
		Backend:             cfg.Storage.Backend,
		Queued:              apiClient.Queue.Len(),
	}

	seen := make(map[string]bool)
	for _, id := range apiClient.Store.CachedInstances() {
		seen[id] = true
	}
	for _, a := range apiClient.Queue.ReadAll() {
		seen[a.InstanceID] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		view := apiClient.Lists.View(id)
		report.Instances = append(report.Instances, instanceStatus{
			InstanceID: id,
			Pending:    view.Pending,
			State:      view.State,
			CachedAt:   view.CachedAt,
		})
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("Connection:   %s\n", onOff(report.Online, "online", "offline"))
	fmt.Printf("Storage:      %s (%s)\n", report.Backend, onOff(!report.PersistenceDegraded, "ok", "degraded"))
	fmt.Printf("Queued edits: %d\n", report.Queued)
	if report.HadSyncDrop {
		printWarning("Some queued edits were rejected by the service. Run with --ack to clear this notice.")
	}

	if len(report.Instances) == 0 {
		return nil
	}

	fmt.Println()
	for _, inst := range report.Instances {
		cached := "not cached"
		if !inst.CachedAt.IsZero() {
			cached = "cached " + inst.CachedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-20s %-9s %3d pending  %s\n", inst.InstanceID, inst.State, inst.Pending, cached)
	}
	return nil
}

func onOff(ok bool, good, bad string) string {
	if ok {
		return color.GreenString(good)
	}
	return color.YellowString(bad)
}
