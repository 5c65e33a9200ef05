package model

import (
	"fmt"
	"path/filepath"
)

// ProxySiteType is a reverse proxy site file, optionally activated through a symlink.
type ProxySiteType struct{}

func (t *ProxySiteType) Kind() Kind {
	return KindProxySite
}

func (t *ProxySiteType) HasRuntime() bool {
	return true
}

func (t *ProxySiteType) Validate(spec *ResourceSpec) error {
	if !filepath.IsAbs(spec.Identity) {
		return fmt.Errorf("proxy site identity must be an absolute path, got '%s'", spec.Identity)
	}
	if !spec.HasContent {
		return fmt.Errorf("proxy site requires a template")
	}
	if spec.EnableLink == "" && spec.RuntimeState == RuntimeDisabled {
		return fmt.Errorf("proxy site without enable_link cannot be disabled")
	}
	if spec.EnableLink != "" && !filepath.IsAbs(spec.EnableLink) {
		return fmt.Errorf("enable_link must be an absolute path, got '%s'", spec.EnableLink)
	}
	return nil
}

func init() {
	RegisterKind(KindProxySite, func() KindType { return &ProxySiteType{} })
}
