package subcmd

import (
	"github.com/openziti/fabkeep/kernel/loader"
	"github.com/openziti/fabkeep/kernel/report"
	"github.com/openziti/fabkeep/kernel/store"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewHistoryCommand())
}

func NewHistoryCommand() *cobra.Command {
	historyCmd := &HistoryCommand{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs of a target model, newest first",
		Args:  cobra.NoArgs,
		RunE:  historyCmd.history,
	}
	historyCmd.register(cmd)
	cmd.Flags().StringVar(&historyCmd.ModelId, "model", "", "model id (default: the id in the target model document)")
	cmd.Flags().IntVarP(&historyCmd.Limit, "limit", "n", 20, "maximum number of runs")

	return cmd
}

type HistoryCommand struct {
	modelFlags
	ModelId string
	Limit   int
}

func (h *HistoryCommand) history(cmd *cobra.Command, args []string) error {
	cfg, err := h.settings()
	if err != nil {
		return err
	}
	modelId := h.ModelId
	if modelId == "" {
		m, err := loader.LoadModel(cfg.ModelPath)
		if err != nil {
			return err
		}
		modelId = m.Id
	}

	runs, err := store.NewFileStore(cfg.StateDir).ListRuns(modelId, h.Limit)
	if err != nil {
		return err
	}
	report.History(cmd.OutOrStdout(), runs)
	return nil
}
