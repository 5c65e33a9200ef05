package store

import (
	"testing"

	"github.com/openziti/fabkeep/kernel/model"
)

func TestMemoryStore_ImplementsResourceStore(t *testing.T) {
	var _ ResourceStore = NewMemoryStore()
	var _ ResourceStore = NewFileStore(t.TempDir())
}

func TestMemoryStore_GetResourcesReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ref := model.NewRef(model.KindFirewallRule, "443/tcp")
	_ = s.SaveResource("app", model.ResourceState{Ref: ref, Enabled: true})

	resources, _ := s.GetResources("app")
	delete(resources, ref)

	again, _ := s.GetResources("app")
	if _, ok := again[ref]; !ok {
		t.Error("mutating the returned map should not affect the store")
	}
}

func TestMemoryStore_Runs(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveRun(&model.RunReport{RunId: "a", ModelId: "app"})
	_ = s.SaveRun(&model.RunReport{RunId: "b", ModelId: "app"})

	runs, _ := s.ListRuns("app", 0)
	if len(runs) != 2 || runs[0].RunId != "b" {
		t.Errorf("expected newest first, got %v", runs)
	}
	models, _ := s.ListModels()
	if len(models) != 1 {
		t.Errorf("expected 1 model, got %v", models)
	}
}
