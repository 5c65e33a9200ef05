package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ServiceUnitType is a service managed by the OS service manager, with an optional unit file.
type ServiceUnitType struct{}

func (t *ServiceUnitType) Kind() Kind {
	return KindServiceUnit
}

func (t *ServiceUnitType) HasRuntime() bool {
	return true
}

func (t *ServiceUnitType) Validate(spec *ResourceSpec) error {
	if strings.ContainsAny(spec.Identity, "/ \t") {
		return fmt.Errorf("service unit identity must be a unit name, got '%s'", spec.Identity)
	}
	if spec.HasContent && spec.UnitPath == "" {
		return fmt.Errorf("service unit with a template requires unit_path")
	}
	if spec.UnitPath != "" && !filepath.IsAbs(spec.UnitPath) {
		return fmt.Errorf("unit_path must be an absolute path, got '%s'", spec.UnitPath)
	}
	switch spec.OnChange {
	case OnChangeRestart, OnChangeReload:
	default:
		return fmt.Errorf("unknown on_change '%s'", spec.OnChange)
	}
	return nil
}

func init() {
	RegisterKind(KindServiceUnit, func() KindType { return &ServiceUnitType{} })
}
