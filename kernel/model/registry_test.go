package model

import (
	"testing"
)

func TestGetKindType_Registered(t *testing.T) {
	for _, kind := range []Kind{KindProxySite, KindServiceUnit, KindEnvFile, KindFirewallRule} {
		kt, err := GetKindType(kind)
		if err != nil {
			t.Fatalf("expected %s to be registered, got error: %v", kind, err)
		}
		if kt.Kind() != kind {
			t.Errorf("expected kind '%s', got '%s'", kind, kt.Kind())
		}
	}
}

func TestGetKindType_NotFound(t *testing.T) {
	_, err := GetKindType("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent kind")
	}
}

func TestRegisterKind_Duplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("registering a kind twice should panic")
		}
	}()
	RegisterKind(KindEnvFile, func() KindType { return &EnvFileType{} })
}

func TestKindType_Runtime(t *testing.T) {
	env, _ := GetKindType(KindEnvFile)
	if env.HasRuntime() {
		t.Error("env_file should not carry runtime state")
	}
	svc, _ := GetKindType(KindServiceUnit)
	if !svc.HasRuntime() {
		t.Error("service_unit should carry runtime state")
	}
}

func TestValidateFirewallRule(t *testing.T) {
	valid := []string{"22", "443/tcp", "53/udp", "6000:6010/tcp"}
	for _, rule := range valid {
		if err := ValidateFirewallRule(rule); err != nil {
			t.Errorf("expected '%s' to be valid: %v", rule, err)
		}
	}
	invalid := []string{"", "http", "70000/tcp", "443/icmp", "6000:6010", "0/tcp"}
	for _, rule := range invalid {
		if err := ValidateFirewallRule(rule); err == nil {
			t.Errorf("expected '%s' to be rejected", rule)
		}
	}
}
