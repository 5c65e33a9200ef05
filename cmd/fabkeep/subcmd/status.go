package subcmd

import (
	"context"

	"github.com/openziti/fabkeep/kernel/report"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewStatusCommand())
}

func NewStatusCommand() *cobra.Command {
	statusCmd := &StatusCommand{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect every declared resource and print its observed state",
		Args:  cobra.NoArgs,
		RunE:  statusCmd.status,
	}
	statusCmd.register(cmd)

	return cmd
}

type StatusCommand struct {
	modelFlags
}

func (s *StatusCommand) status(cmd *cobra.Command, args []string) error {
	env, err := s.open()
	if err != nil {
		return err
	}
	defer env.Close()

	plan, states, err := env.reconciler.Plan(context.Background(), env.ctx)
	if states != nil {
		report.Status(cmd.OutOrStdout(), env.ctx.Model.Resources, states)
	}
	if err != nil {
		return err
	}
	report.Plan(cmd.OutOrStdout(), env.ctx.Model.Id, plan.Records())
	return nil
}
