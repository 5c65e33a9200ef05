package subcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openziti/fabkeep/kernel/backup"
	"github.com/openziti/fabkeep/kernel/report"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	ExitIntegrity     = 1
	ExitRestoreVerify = 2
)

func init() {
	RootCmd.AddCommand(NewRestoreCommand())
}

func NewRestoreCommand() *cobra.Command {
	restoreCmd := &RestoreCommand{}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Verify a backup archive and write it back in place",
		Long: `Verify every archived object, snapshot the content about to be replaced into the state directory,
write the archive back and reconcile runtime state. Without --yes the archive is only verified and the
resources it would restore are printed.

Exit status: 0 success, 1 integrity failure, 2 post-restore reconciliation or health failure.`,
		Args: cobra.NoArgs,
		RunE: restoreCmd.restore,
	}

	restoreCmd.register(cmd)
	cmd.Flags().StringVarP(&restoreCmd.Archive, "archive", "a", "", "archive to restore")
	cmd.Flags().BoolVarP(&restoreCmd.Yes, "yes", "y", false, "write the archive in place")
	cmd.Flags().StringVar(&restoreCmd.FromS3, "from-s3", "", "download the archive with this key from backup.s3_bucket first")
	cmd.Flags().BoolVar(&restoreCmd.AllowOtherModel, "allow-other-model", false, "accept an archive taken from a different model id")

	return cmd
}

type RestoreCommand struct {
	modelFlags
	Archive string
	Yes     bool
	FromS3  string

	AllowOtherModel bool
}

func (r *RestoreCommand) restore(cmd *cobra.Command, args []string) error {
	if (r.Archive == "") == (r.FromS3 == "") {
		return exitWith(ExitIntegrity, errors.New("exactly one of --archive or --from-s3 is required"))
	}

	env, err := r.open()
	if err != nil {
		return exitWith(ExitIntegrity, err)
	}
	defer env.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	archive := r.Archive
	if r.FromS3 != "" {
		offsite, err := backup.NewOffsite(env.ctx.Config.Backup)
		if err != nil {
			return exitWith(ExitIntegrity, err)
		}
		if archive, err = offsite.Download(ctx, r.FromS3, env.ctx.Config.StateDir); err != nil {
			return exitWith(ExitIntegrity, err)
		}
	}

	out := cmd.OutOrStdout()
	result, run, err := env.reconciler.Restore(ctx, env.ctx, archive, backup.RestoreOptions{DryRun: !r.Yes, AllowOtherModel: r.AllowOtherModel})
	if result != nil {
		report.Restore(out, result)
	}
	if run != nil {
		report.Run(out, run)
	}
	if err != nil {
		if run != nil {
			return exitWith(ExitRestoreVerify, err)
		}
		return exitWith(ExitIntegrity, err)
	}
	if !r.Yes {
		_, _ = fmt.Fprintln(out, "archive verified, nothing written; pass --yes to restore")
	}
	return nil
}
