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
	"fmt"
	"os"
	"path/filepath"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	ExitOk          = 0
	ExitFailed      = 1
	ExitRolledBack  = 2
	ExitConfigError = 3
)

func init() {
	pfxlog.GlobalInit(logrus.InfoLevel, pfxlog.DefaultOptions().SetTrimPrefix("github.com/openziti/"))
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

var RootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "Declarative reconciliation, health verification and backup of a single server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

func Execute() error {
	err := RootCmd.Execute()
	if err != nil {
		pfxlog.Logger().WithError(err).Error("command failed")
	}
	return err
}

// ExitError carries the process exit code a command decided on.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitWith(code int, err error) error {
	if code == ExitOk {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOk
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if isConfigError(err) {
		return ExitConfigError
	}
	return ExitFailed
}

func isConfigError(err error) bool {
	var cfgErr *model.ConfigError
	var cycleErr *model.CyclicDependencyError
	return errors.As(err, &cfgErr) || errors.As(err, &cycleErr)
}

// reconcileExitCode maps a run outcome to the reconcile exit status.
func reconcileExitCode(report *model.RunReport, err error) int {
	if err != nil && isConfigError(err) {
		return ExitConfigError
	}
	if report == nil {
		if err != nil {
			return ExitFailed
		}
		return ExitOk
	}
	switch report.State {
	case model.StateDone, model.StatePlanned:
		return ExitOk
	case model.StateRolledBack:
		return ExitRolledBack
	}
	return ExitFailed
}
