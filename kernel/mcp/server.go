package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/openziti/fabkeep/kernel/engine"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/loader"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/openziti/fabkeep/kernel/store"
)

const (
	StatusURI        = "fabkeep://status"
	defaultRunsLimit = 10
)

// HostOpener connects to the host a target model manages.
type HostOpener func(m *model.TargetModel) (*host.Host, error)

// FabkeepMCPServer exposes read-only views of target models and their run history. Nothing reachable from it
// mutates a host; reconciliation stays with the CLI.
type FabkeepMCPServer struct {
	server   *server.MCPServer
	store    store.ResourceStore
	config   *model.Config
	openHost HostOpener
}

func NewFabkeepMCPServer(s store.ResourceStore, cfg *model.Config, version string) *FabkeepMCPServer {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	srv := server.NewMCPServer(
		"fabkeep",
		version,
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
	)

	fs := &FabkeepMCPServer{
		server: srv,
		store:  s,
		config: cfg,
		openHost: func(m *model.TargetModel) (*host.Host, error) {
			return host.Open(m.Host, cfg.CommandTimeout)
		},
	}

	fs.registerTools()
	fs.registerResources()

	return fs
}

func (fs *FabkeepMCPServer) ServeStdio() error {
	return server.ServeStdio(fs.server)
}

func (fs *FabkeepMCPServer) registerTools() {
	fs.server.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List target models with recorded runs or resource state"),
	), fs.listModelsHandler)

	fs.server.AddTool(mcp.NewTool("history",
		mcp.WithDescription("List recent reconciliation runs of a target model, newest first"),
		mcp.WithString("model_id", mcp.Description("Target model id"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return")),
	), fs.historyHandler)

	fs.server.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get the full report of one reconciliation run"),
		mcp.WithString("model_id", mcp.Description("Target model id"), mcp.Required()),
		mcp.WithString("run_id", mcp.Description("Run id"), mcp.Required()),
	), fs.getRunHandler)

	fs.server.AddTool(mcp.NewTool("get_resources",
		mcp.WithDescription("Get the last observed state of every resource of a target model"),
		mcp.WithString("model_id", mcp.Description("Target model id"), mcp.Required()),
	), fs.getResourcesHandler)

	fs.server.AddTool(mcp.NewTool("plan",
		mcp.WithDescription("Inspect the host and compute the reconciliation plan for a model document without applying it"),
		mcp.WithString("config_path", mcp.Description("Path to the target model document"), mcp.Required()),
	), fs.planHandler)
}

func (fs *FabkeepMCPServer) registerResources() {
	resource := mcp.NewResource(StatusURI, "fabkeep status",
		mcp.WithResourceDescription("Latest run of every known target model"),
		mcp.WithMIMEType("application/json"),
	)
	fs.server.AddResource(resource, fs.statusHandler)
}

func (fs *FabkeepMCPServer) listModelsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	models, err := fs.store.ListModels()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list models: %v", err)), nil
	}
	return jsonResult(map[string]any{"count": len(models), "models": models})
}

func (fs *FabkeepMCPServer) historyHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	modelId, err := request.RequireString("model_id")
	if err != nil {
		return mcp.NewToolResultError("model_id argument is required"), nil
	}
	limit := request.GetInt("limit", defaultRunsLimit)

	runs, err := fs.store.ListRuns(modelId, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	return jsonResult(map[string]any{"model_id": modelId, "count": len(runs), "runs": runs})
}

func (fs *FabkeepMCPServer) getRunHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	modelId, err := request.RequireString("model_id")
	if err != nil {
		return mcp.NewToolResultError("model_id argument is required"), nil
	}
	runId, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id argument is required"), nil
	}

	run, err := fs.store.GetRun(modelId, runId)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(run)
}

func (fs *FabkeepMCPServer) getResourcesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	modelId, err := request.RequireString("model_id")
	if err != nil {
		return mcp.NewToolResultError("model_id argument is required"), nil
	}

	resources, err := fs.store.GetResources(modelId)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get resources: %v", err)), nil
	}
	list := make([]model.ResourceState, 0, len(resources))
	for _, r := range resources {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Ref < list[j].Ref })
	return jsonResult(map[string]any{"model_id": modelId, "count": len(list), "resources": list})
}

func (fs *FabkeepMCPServer) planHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("config_path")
	if err != nil {
		return mcp.NewToolResultError("config_path argument is required"), nil
	}

	m, err := loader.LoadModel(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := fs.openHost(m)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open host: %v", err)), nil
	}
	defer func() { _ = h.Close() }()

	r := engine.NewReconciler(h, fs.config, nil, nil)
	plan, _, err := r.Plan(ctx, model.NewContext(m, fs.config))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var pending []model.ActionRecord
	for _, a := range plan.Pending() {
		pending = append(pending, a.Record())
	}
	return jsonResult(map[string]any{
		"model_id": m.Id,
		"dry_run":  true,
		"in_sync":  plan.IsEmpty(),
		"summary":  plan.Summary(),
		"actions":  pending,
	})
}

func (fs *FabkeepMCPServer) statusHandler(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	models, err := fs.store.ListModels()
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	latest := map[string]*model.RunReport{}
	for _, id := range models {
		runs, err := fs.store.ListRuns(id, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs of [%s]: %w", id, err)
		}
		if len(runs) > 0 {
			latest[id] = runs[0]
		} else {
			latest[id] = nil
		}
	}

	data, err := json.Marshal(map[string]any{"count": len(models), "models": latest})
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
