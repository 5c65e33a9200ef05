package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/openziti/fabkeep/kernel/store"
)

func TestNewFabkeepMCPServer(t *testing.T) {
	memStore := store.NewMemoryStore()
	server := NewFabkeepMCPServer(memStore, nil, "test")

	if server == nil {
		t.Fatal("expected server to be created")
	}
	if server.store == nil {
		t.Error("expected store to be set")
	}
	if server.config == nil {
		t.Error("expected default config")
	}
}

func TestListModelsHandler(t *testing.T) {
	memStore := store.NewMemoryStore()
	memStore.SaveRun(&model.RunReport{RunId: "r1", ModelId: "web"})
	memStore.SaveResource("db", model.ResourceState{Ref: "service_unit:postgresql"})

	server := NewFabkeepMCPServer(memStore, nil, "test")

	result, err := server.listModelsHandler(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var response map[string]interface{}
	json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &response)

	if int(response["count"].(float64)) != 2 {
		t.Errorf("expected 2 models, got %v", response["count"])
	}
}

func TestHistoryHandler(t *testing.T) {
	memStore := store.NewMemoryStore()
	for _, id := range []string{"r1", "r2", "r3"} {
		memStore.SaveRun(&model.RunReport{RunId: id, ModelId: "web", State: model.StateDone})
	}
	server := NewFabkeepMCPServer(memStore, nil, "test")

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]any{"model_id": "web", "limit": 2},
		},
	}
	result, err := server.historyHandler(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var response struct {
		Count int                `json:"count"`
		Runs  []*model.RunReport `json:"runs"`
	}
	json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &response)

	if response.Count != 2 {
		t.Errorf("expected 2 runs, got %d", response.Count)
	}
	if len(response.Runs) > 0 && response.Runs[0].RunId != "r3" {
		t.Errorf("expected newest run first, got %s", response.Runs[0].RunId)
	}
}

func TestGetRunHandler_NotFound(t *testing.T) {
	server := NewFabkeepMCPServer(store.NewMemoryStore(), nil, "test")

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]any{"model_id": "web", "run_id": "nonexistent"},
		},
	}
	result, err := server.getRunHandler(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for nonexistent run")
	}
}

func TestGetRunHandler_MissingArgument(t *testing.T) {
	server := NewFabkeepMCPServer(store.NewMemoryStore(), nil, "test")

	result, err := server.getRunHandler(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result without model_id")
	}
}

func TestGetResourcesHandler(t *testing.T) {
	memStore := store.NewMemoryStore()
	memStore.SaveResource("web", model.ResourceState{Ref: "service_unit:nginx", Exists: true, Active: true})
	memStore.SaveResource("web", model.ResourceState{Ref: "firewall_rule:443/tcp", Exists: true, Enabled: true})

	server := NewFabkeepMCPServer(memStore, nil, "test")

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]any{"model_id": "web"},
		},
	}
	result, err := server.getResourcesHandler(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var response map[string]interface{}
	json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &response)

	if int(response["count"].(float64)) != 2 {
		t.Errorf("expected 2 resources, got %v", response["count"])
	}
}

func TestPlanHandler(t *testing.T) {
	memHost := host.NewMemoryHost()
	memHost.Rules.Allow(context.Background(), "22/tcp")

	server := NewFabkeepMCPServer(store.NewMemoryStore(), nil, "test")
	server.openHost = func(*model.TargetModel) (*host.Host, error) { return memHost.Host, nil }

	configPath := filepath.Join(t.TempDir(), "fabkeep.yml")
	configContent := `
model:
  id: web
resources:
  - kind: firewall_rule
    identity: 22/tcp
  - kind: env_file
    identity: /etc/web/web.env
    template: "PORT=80\n"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]any{"config_path": configPath},
		},
	}
	result, err := server.planHandler(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %v", result.Content)
	}

	var response struct {
		ModelId string               `json:"model_id"`
		DryRun  bool                 `json:"dry_run"`
		Actions []model.ActionRecord `json:"actions"`
	}
	json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &response)

	if !response.DryRun {
		t.Error("expected dry_run to be true")
	}
	if response.ModelId != "web" {
		t.Errorf("expected model_id 'web', got %v", response.ModelId)
	}
	if len(response.Actions) != 1 || response.Actions[0].Op != "create" {
		t.Errorf("expected a single create, got %+v", response.Actions)
	}
	if memHost.Files.Writes() != 0 {
		t.Error("plan must not write")
	}
}

func TestStatusHandler(t *testing.T) {
	memStore := store.NewMemoryStore()
	memStore.SaveRun(&model.RunReport{RunId: "r1", ModelId: "web", State: model.StateDone})

	server := NewFabkeepMCPServer(memStore, nil, "test")

	contents, err := server.statusHandler(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	textContent := contents[0].(mcp.TextResourceContents)
	if textContent.URI != StatusURI {
		t.Errorf("expected URI '%s', got %s", StatusURI, textContent.URI)
	}

	var response map[string]interface{}
	json.Unmarshal([]byte(textContent.Text), &response)

	if int(response["count"].(float64)) != 1 {
		t.Errorf("expected count 1, got %v", response["count"])
	}
}
