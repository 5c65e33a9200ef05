package store

import "github.com/openziti/fabkeep/kernel/model"

// DefaultRunRetention is how many run reports are kept per model.
const DefaultRunRetention = 100

// StateStore keeps the history of reconciliation runs per target model.
type StateStore interface {
	SaveRun(report *model.RunReport) error
	GetRun(modelId, runId string) (*model.RunReport, error)
	// ListRuns returns the newest runs first, at most limit when limit > 0.
	ListRuns(modelId string, limit int) ([]*model.RunReport, error)
	ListModels() ([]string, error)
}

// ResourceStore extends StateStore with the last observed state of each resource.
type ResourceStore interface {
	StateStore
	GetResources(modelId string) (map[model.Ref]model.ResourceState, error)
	SaveResource(modelId string, resource model.ResourceState) error
	DeleteResource(modelId string, ref model.Ref) error
}
