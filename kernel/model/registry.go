package model

import (
	"fmt"
	"sort"
	"sync"
)

// KindType describes how a resource kind is shaped: whether it carries file content,
// whether runtime state applies, and what fields it requires.
type KindType interface {
	Kind() Kind
	HasRuntime() bool
	Validate(spec *ResourceSpec) error
}

// KindFactory creates a new instance of a KindType
type KindFactory func() KindType

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]KindFactory)
)

// RegisterKind registers a factory for a given resource kind.
// e.g. RegisterKind(KindEnvFile, func() KindType { return &EnvFileType{} })
func RegisterKind(kind Kind, factory KindFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("RegisterKind called twice for " + string(kind))
	}
	registry[kind] = factory
}

// GetKindType creates a new instance of the kind type by name.
func GetKindType(kind Kind) (KindType, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("resource kind '%s' not found in registry", kind)
	}
	return factory(), nil
}

func RegisteredKinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
