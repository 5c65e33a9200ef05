package model

import (
	"fmt"
	"path/filepath"
)

// EnvFileType is an environment file consumed by a service. It has no runtime state of its own.
type EnvFileType struct{}

func (t *EnvFileType) Kind() Kind {
	return KindEnvFile
}

func (t *EnvFileType) HasRuntime() bool {
	return false
}

func (t *EnvFileType) Validate(spec *ResourceSpec) error {
	if !filepath.IsAbs(spec.Identity) {
		return fmt.Errorf("env file identity must be an absolute path, got '%s'", spec.Identity)
	}
	if !spec.HasContent {
		return fmt.Errorf("env file requires a template")
	}
	return nil
}

func init() {
	RegisterKind(KindEnvFile, func() KindType { return &EnvFileType{} })
}
