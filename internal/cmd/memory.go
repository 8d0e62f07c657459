package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wayscout-io/wayscout/internal/config"
	"github.com/wayscout-io/wayscout/internal/memory"
)

var memoryState string

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect detection memory",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the remembered events, approvals, and pending queue",
	RunE:  memoryShow,
}

var memoryHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the run history log",
	RunE:  memoryHistory,
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memoryState, "state", "", "path to the memory state file")
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryHistoryCmd)
	rootCmd.AddCommand(memoryCmd)
}

func openMemoryStore() (*memory.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if memoryState != "" {
		cfg.StatePath = memoryState
	}
	return memory.NewStore(cfg.MemoryStatePath())
}

func memoryShow(cmd *cobra.Command, args []string) error {
	_, span := tracer.Start(cmd.Context(), "memory_show")
	defer span.End()

	store, err := openMemoryStore()
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"run_count":         store.State.RunCount,
		"events":            store.State.Events,
		"approvals":         store.State.Approvals,
		"rejections":        store.State.Rejections,
		"pending_event_ids": store.State.PendingEventIDs,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func memoryHistory(cmd *cobra.Command, args []string) error {
	_, span := tracer.Start(cmd.Context(), "memory_history")
	defer span.End()

	store, err := openMemoryStore()
	if err != nil {
		return err
	}

	if len(store.State.History) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	for _, line := range store.State.History {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
