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
	"github.com/openziti/fabkeep/kernel/mcp"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/openziti/fabkeep/kernel/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewMCPServerCommand())
}

func NewMCPServerCommand() *cobra.Command {
	mcpCmd := &MCPServerCommand{}

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start an MCP server exposing plans, resource state and run history",
		Long: `Start an MCP (Model Context Protocol) server on stdio exposing read-only fabkeep views.

The server provides tools for:
  - list_models: List target models with recorded state
  - history: List recent runs of a model
  - get_run: Get the full report of one run
  - get_resources: Get the last observed state of a model's resources
  - plan: Compute the plan for a target model document without applying it

And resources:
  - fabkeep://status: Latest run of every known model`,
		Args: cobra.NoArgs,
		RunE: mcpCmd.run,
	}

	cmd.Flags().StringVar(&mcpCmd.SettingsPath, "settings", "", "path to fabkeep settings (default ~/.fabkeep/config.yml)")
	cmd.Flags().BoolVar(&mcpCmd.UseMemoryStore, "memory", false, "use in-memory store (for testing)")

	return cmd
}

type MCPServerCommand struct {
	SettingsPath   string
	UseMemoryStore bool
}

func (m *MCPServerCommand) run(cmd *cobra.Command, args []string) error {
	var resourceStore store.ResourceStore

	cfg, err := model.LoadConfig(m.SettingsPath)
	if err != nil {
		logrus.WithError(err).Warn("could not load settings, using defaults")
		cfg = model.DefaultConfig()
	}

	if m.UseMemoryStore {
		logrus.Info("using in-memory store")
		resourceStore = store.NewMemoryStore()
	} else {
		resourceStore = store.NewFileStore(cfg.StateDir)
	}

	logrus.Info("starting MCP server on stdio...")
	server := mcp.NewFabkeepMCPServer(resourceStore, cfg, Version)
	return server.ServeStdio()
}
