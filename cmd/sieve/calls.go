package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sieve/internal/llmcall"
	"github.com/jackzampolin/sieve/internal/svcctx"
)

var (
	callsRunName string
	callsTask    string
	callsStage   string
	callsFailed  bool
	callsLimit   int
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect recorded inference calls",
	Long: `Inspect inference calls recorded with run.record_calls enabled.

Calls are stored in llm_calls.db in the sieve home directory.`,
}

func openCallStore(cmd *cobra.Command) (*llmcall.Store, error) {
	h := svcctx.HomeFrom(cmd.Context())
	if !h.Exists() {
		return nil, fmt.Errorf("no call log: %s does not exist", h.Path())
	}
	return llmcall.OpenStore(h.CallLogPath())
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded calls, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		filter := llmcall.QueryFilter{
			RunName:  callsRunName,
			TaskName: callsTask,
			Stage:    callsStage,
			Limit:    callsLimit,
		}
		if callsFailed {
			success := false
			filter.Success = &success
		}
		calls, err := store.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if calls == nil {
			calls = []llmcall.Call{}
		}
		return printer.Print(calls)
	},
}

var callsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one recorded call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		call, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if call == nil {
			return fmt.Errorf("call %s not found", args[0])
		}
		return printer.Print(call)
	},
}

func init() {
	f := callsListCmd.Flags()
	f.StringVar(&callsRunName, "run-name", "", "filter by run name")
	f.StringVar(&callsTask, "task", "", "filter by task name")
	f.StringVar(&callsStage, "stage", "", "filter by stage: initial or repair")
	f.BoolVar(&callsFailed, "failed", false, "only failed calls")
	f.IntVar(&callsLimit, "limit", 100, "maximum number of calls (0 for all)")

	callsCmd.AddCommand(callsListCmd)
	callsCmd.AddCommand(callsGetCmd)
	rootCmd.AddCommand(callsCmd)
}
