package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

type Kind string

const (
	KindProxySite    Kind = "proxy_site"
	KindServiceUnit  Kind = "service_unit"
	KindEnvFile      Kind = "env_file"
	KindFirewallRule Kind = "firewall_rule"
)

type RuntimeState string

const (
	RuntimeEnabled  RuntimeState = "enabled"
	RuntimeDisabled RuntimeState = "disabled"
)

type OnChange string

const (
	OnChangeRestart OnChange = "restart"
	OnChangeReload  OnChange = "reload"
)

// Ref identifies a resource across kinds, formatted as "kind:identity".
type Ref string

func NewRef(kind Kind, identity string) Ref {
	return Ref(string(kind) + ":" + identity)
}

func ParseRef(s string) (Ref, error) {
	kind, identity, ok := strings.Cut(s, ":")
	if !ok || kind == "" || identity == "" {
		return "", fmt.Errorf("invalid resource reference '%s', expected kind:identity", s)
	}
	return NewRef(Kind(kind), identity), nil
}

// ResourceSpec is the desired state of one managed unit.
type ResourceSpec struct {
	Kind         Kind
	Identity     string
	Content      []byte
	HasContent   bool
	Mode         os.FileMode
	RuntimeState RuntimeState
	DependsOn    []Ref

	// proxy_site
	EnableLink string

	// service_unit
	UnitPath string
	OnChange OnChange
	Validate []string
}

func (r *ResourceSpec) Ref() Ref {
	return NewRef(r.Kind, r.Identity)
}

// ContentPath is the on-disk location of the desired content, empty for content-less resources.
func (r *ResourceSpec) ContentPath() string {
	switch r.Kind {
	case KindProxySite, KindEnvFile:
		return r.Identity
	case KindServiceUnit:
		return r.UnitPath
	}
	return ""
}

func (r *ResourceSpec) DesiredHash() string {
	if !r.HasContent {
		return ""
	}
	return HashContent(r.Content)
}

func (r *ResourceSpec) WantsEnabled() bool {
	return r.RuntimeState == RuntimeEnabled
}

func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type HostConfig struct {
	Address        string
	User           string
	KeyPath        string
	KnownHostsPath string
	Insecure       bool
	Timeout        time.Duration
}

func (h *HostConfig) IsLocal() bool {
	return h == nil || strings.TrimSpace(h.Address) == ""
}

// TargetModel is the full declarative description for one managed server.
type TargetModel struct {
	Id        string
	Host      *HostConfig
	Resources []*ResourceSpec
	Probes    []*HealthProbe
}

func (m *TargetModel) Resource(ref Ref) (*ResourceSpec, bool) {
	for _, r := range m.Resources {
		if r.Ref() == ref {
			return r, true
		}
	}
	return nil, false
}
