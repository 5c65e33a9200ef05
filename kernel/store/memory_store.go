package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openziti/fabkeep/kernel/model"
)

// MemoryStore is an in-memory implementation of ResourceStore for testing.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string][]*model.RunReport
	resources map[string]map[model.Ref]model.ResourceState // modelId -> ref -> state
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string][]*model.RunReport),
		resources: make(map[string]map[model.Ref]model.ResourceState),
	}
}

func (s *MemoryStore) SaveRun(report *model.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[report.ModelId] = append(s.runs[report.ModelId], report)
	return nil
}

func (s *MemoryStore) GetRun(modelId, runId string) (*model.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.runs[modelId] {
		if r.RunId == runId {
			return r, nil
		}
	}
	return nil, fmt.Errorf("run [%s] not found for model [%s]", runId, modelId)
}

func (s *MemoryStore) ListRuns(modelId string, limit int) ([]*model.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newestFirst(s.runs[modelId], limit), nil
}

func (s *MemoryStore) ListModels() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	for k := range s.runs {
		seen[k] = true
	}
	for k := range s.resources {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetResources returns all resources for a model.
func (s *MemoryStore) GetResources(modelId string) (map[model.Ref]model.ResourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources, ok := s.resources[modelId]
	if !ok {
		return make(map[model.Ref]model.ResourceState), nil
	}

	// Return a copy to prevent concurrent modification
	result := make(map[model.Ref]model.ResourceState, len(resources))
	for k, v := range resources {
		result[k] = v
	}
	return result, nil
}

// SaveResource saves a single resource state.
func (s *MemoryStore) SaveResource(modelId string, resource model.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources[modelId] == nil {
		s.resources[modelId] = make(map[model.Ref]model.ResourceState)
	}
	s.resources[modelId][resource.Ref] = resource
	return nil
}

// DeleteResource removes a resource from the store.
func (s *MemoryStore) DeleteResource(modelId string, ref model.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources[modelId] != nil {
		delete(s.resources[modelId], ref)
	}
	return nil
}
