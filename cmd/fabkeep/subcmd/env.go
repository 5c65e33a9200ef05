package subcmd

import (
	"github.com/openziti/fabkeep/kernel/engine"
	"github.com/openziti/fabkeep/kernel/health"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/loader"
	"github.com/openziti/fabkeep/kernel/metrics"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/openziti/fabkeep/kernel/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// modelFlags are shared by every command operating on a target model.
type modelFlags struct {
	ConfigPath   string
	SettingsPath string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "", "path to the target model document (default from settings)")
	cmd.Flags().StringVar(&f.SettingsPath, "settings", "", "path to fabkeep settings (default ~/.fabkeep/config.yml)")
}

func (f *modelFlags) settings() (*model.Config, error) {
	cfg, err := model.LoadConfig(f.SettingsPath)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	if !verbose && cfg.LogLevel != "" {
		if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			logrus.SetLevel(level)
		}
	}
	if f.ConfigPath != "" {
		cfg.ModelPath = f.ConfigPath
	}
	return cfg, nil
}

// environment is everything a command needs to act on one target model.
type environment struct {
	ctx        *model.Context
	host       *host.Host
	store      *store.FileStore
	sink       *metrics.MultiSink
	reconciler *engine.Reconciler
}

func (f *modelFlags) open() (*environment, error) {
	cfg, err := f.settings()
	if err != nil {
		return nil, err
	}
	m, err := loader.LoadModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	h, err := host.Open(m.Host, cfg.CommandTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open host")
	}
	sink, err := metrics.NewFromConfig(cfg.Metrics)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	s := store.NewFileStore(cfg.StateDir)
	r := engine.NewReconciler(h, cfg, health.NewVerifier(), s)
	r.Recorder = sink

	return &environment{
		ctx:        model.NewContext(m, cfg),
		host:       h,
		store:      s,
		sink:       sink,
		reconciler: r,
	}, nil
}

func (e *environment) Close() {
	_ = e.sink.Close()
	_ = e.host.Close()
}
