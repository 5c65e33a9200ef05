package subcmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openziti/fabkeep/kernel/backup"
	"github.com/openziti/fabkeep/kernel/report"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewBackupCommand())
}

func NewBackupCommand() *cobra.Command {
	backupCmd := &BackupCommand{}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the current content of every file-backed resource",
		Args:  cobra.NoArgs,
		RunE:  backupCmd.backup,
	}

	backupCmd.register(cmd)
	cmd.Flags().StringVarP(&backupCmd.Output, "output", "o", "", "archive path (default <backup.dir>/<model>-<timestamp>.tar.gz)")
	cmd.Flags().BoolVar(&backupCmd.Upload, "upload", false, "copy the archive to backup.s3_bucket")

	return cmd
}

type BackupCommand struct {
	modelFlags
	Output string
	Upload bool
}

func (b *BackupCommand) backup(cmd *cobra.Command, args []string) error {
	env, err := b.open()
	if err != nil {
		return exitWith(ExitFailed, err)
	}
	defer env.Close()

	cfg := env.ctx.Config
	out := b.Output
	if out == "" {
		name := fmt.Sprintf("%s-%s.tar.gz", env.ctx.Model.Id, time.Now().UTC().Format("20060102T150405Z"))
		out = filepath.Join(cfg.Backup.Dir, name)
	}

	ctx := context.Background()
	manifest, err := env.reconciler.Backup(ctx, env.ctx, out)
	if err != nil {
		return exitWith(ExitFailed, err)
	}
	report.Manifest(cmd.OutOrStdout(), manifest)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "archive: %s\n", out)

	if b.Upload {
		offsite, err := backup.NewOffsite(cfg.Backup)
		if err != nil {
			return exitWith(ExitFailed, err)
		}
		key, err := offsite.Upload(ctx, out)
		if err != nil {
			return exitWith(ExitFailed, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uploaded: s3://%s/%s\n", offsite.Bucket, key)
	}
	return nil
}
