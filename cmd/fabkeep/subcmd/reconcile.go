/*
	(c) Copyright NetFoundry Inc. Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package subcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openziti/fabkeep/kernel/engine"
	"github.com/openziti/fabkeep/kernel/report"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewReconcileCommand())
}

func NewReconcileCommand() *cobra.Command {
	reconcileCmd := &ReconcileCommand{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the host in line with the target model, then verify health",
		Long: `Inspect every declared resource, compute a plan, apply it and run the health probes.

Exit status: 0 done, 1 failed, 2 rolled back, 3 configuration error.`,
		Args: cobra.NoArgs,
		RunE: reconcileCmd.reconcile,
	}

	reconcileCmd.register(cmd)
	cmd.Flags().BoolVar(&reconcileCmd.DryRun, "dry-run", false, "compute and print the plan without applying it")

	return cmd
}

type ReconcileCommand struct {
	modelFlags
	DryRun bool
}

func (r *ReconcileCommand) reconcile(cmd *cobra.Command, args []string) error {
	env, err := r.open()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := env.reconciler.Reconcile(ctx, env.ctx, engine.Options{DryRun: r.DryRun, Trigger: "cli"})
	out := cmd.OutOrStdout()
	if result != nil {
		if r.DryRun {
			report.Plan(out, result.ModelId, result.Planned)
		} else {
			report.Run(out, result)
		}
	}
	return exitWith(reconcileExitCode(result, err), err)
}
