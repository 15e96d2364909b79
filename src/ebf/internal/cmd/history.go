package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/bitswalk/ebf/src/ebf/history"
	"github.com/bitswalk/ebf/src/ebf/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past builds",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded build",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop ledger entries older than the retention window",
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum entries to show")
	historyCmd.Flags().String("target", "", "Only builds of this target")
	historyPruneCmd.Flags().Duration("older-than", 90*24*time.Hour, "Retention window")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	targetName, _ := cmd.Flags().GetString("target")

	var entries []history.Entry
	if targetName != "" {
		entries, err = store.ListByTarget(targetName, limit)
	} else {
		entries, err = store.List(limit)
	}
	if err != nil {
		return err
	}

	if getOutputFormat() == "json" {
		return output.PrintJSON(entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		state := e.State
		if e.Degraded {
			state += " (degraded)"
		}
		rows = append(rows, []string{
			shortID(e.ID),
			e.Kind,
			e.Target,
			e.Ref,
			state,
			e.Duration().Round(time.Second).String(),
			e.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	output.PrintTable([]string{"ID", "KIND", "TARGET", "REF", "STATE", "DURATION", "WHEN"}, rows)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := store.Get(args[0])
	if err != nil {
		return err
	}

	if getOutputFormat() == "json" {
		return output.PrintJSON(entry)
	}
	rows := [][]string{
		{"ID", entry.ID},
		{"Kind", entry.Kind},
		{"Target", entry.Target},
		{"Ref", entry.Ref},
		{"Commit", entry.Commit},
		{"State", entry.State},
		{"Duration", entry.Duration().Round(time.Second).String()},
		{"Output", entry.OutputDir},
	}
	if entry.Toolchain != "" {
		rows = append(rows, []string{"Toolchain", entry.Toolchain})
	}
	if entry.Error != "" {
		rows = append(rows, []string{"Error", entry.Error})
	}
	output.PrintTable([]string{"FIELD", "VALUE"}, rows)
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	n, err := store.Prune(time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	log.Info("Ledger pruned", "removed", n)
	return nil
}

// shortID abbreviates a UUID for table output
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
