package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/openziti/fabkeep/kernel/model"
)

// FileStore persists run history and resource states as JSON under a state directory, one directory per model.
type FileStore struct {
	Dir       string
	Retention int
	mu        sync.RWMutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir, Retention: DefaultRunRetention}
}

func (s *FileStore) SaveRun(report *model.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.getRunsUnsafe(report.ModelId)
	if err != nil {
		return err
	}
	runs = append(runs, report)
	if s.Retention > 0 && len(runs) > s.Retention {
		runs = runs[len(runs)-s.Retention:]
	}
	return s.writeJsonUnsafe(s.runsPath(report.ModelId), runs)
}

func (s *FileStore) GetRun(modelId, runId string) (*model.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.getRunsUnsafe(modelId)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.RunId == runId {
			return r, nil
		}
	}
	return nil, fmt.Errorf("run [%s] not found for model [%s]", runId, modelId)
}

func (s *FileStore) ListRuns(modelId string, limit int) ([]*model.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.getRunsUnsafe(modelId)
	if err != nil {
		return nil, err
	}
	return newestFirst(runs, limit), nil
}

func (s *FileStore) ListModels() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list state dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetResources returns all resources for a model from file.
func (s *FileStore) GetResources(modelId string) (map[model.Ref]model.ResourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getResourcesUnsafe(modelId)
}

// SaveResource saves a single resource state to file.
func (s *FileStore) SaveResource(modelId string, resource model.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources, err := s.getResourcesUnsafe(modelId)
	if err != nil {
		return err
	}

	resources[resource.Ref] = resource
	return s.writeJsonUnsafe(s.resourcesPath(modelId), resources)
}

// DeleteResource removes a resource from the store.
func (s *FileStore) DeleteResource(modelId string, ref model.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources, err := s.getResourcesUnsafe(modelId)
	if err != nil {
		return err
	}

	delete(resources, ref)
	return s.writeJsonUnsafe(s.resourcesPath(modelId), resources)
}

func (s *FileStore) resourcesPath(modelId string) string {
	return filepath.Join(s.Dir, modelId, "resources.json")
}

func (s *FileStore) runsPath(modelId string) string {
	return filepath.Join(s.Dir, modelId, "runs.json")
}

func (s *FileStore) getResourcesUnsafe(modelId string) (map[model.Ref]model.ResourceState, error) {
	data, err := os.ReadFile(s.resourcesPath(modelId))
	if os.IsNotExist(err) {
		return make(map[model.Ref]model.ResourceState), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resources: %w", err)
	}

	var resources map[model.Ref]model.ResourceState
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("failed to parse resources: %w", err)
	}
	if resources == nil {
		resources = make(map[model.Ref]model.ResourceState)
	}
	return resources, nil
}

func (s *FileStore) getRunsUnsafe(modelId string) ([]*model.RunReport, error) {
	data, err := os.ReadFile(s.runsPath(modelId))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	var runs []*model.RunReport
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("failed to parse runs: %w", err)
	}
	return runs, nil
}

func (s *FileStore) writeJsonUnsafe(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace [%s]: %w", path, err)
	}

	return nil
}

func newestFirst(runs []*model.RunReport, limit int) []*model.RunReport {
	out := make([]*model.RunReport, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
