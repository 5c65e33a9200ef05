package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FirewallRuleType is a port rule such as "443/tcp". Enabled means the port is allowed.
type FirewallRuleType struct{}

func (t *FirewallRuleType) Kind() Kind {
	return KindFirewallRule
}

func (t *FirewallRuleType) HasRuntime() bool {
	return true
}

func (t *FirewallRuleType) Validate(spec *ResourceSpec) error {
	if spec.HasContent {
		return fmt.Errorf("firewall rule does not take a template")
	}
	return ValidateFirewallRule(spec.Identity)
}

func ValidateFirewallRule(rule string) error {
	port, proto, hasProto := strings.Cut(rule, "/")
	if hasProto && proto != "tcp" && proto != "udp" {
		return fmt.Errorf("firewall rule '%s' has unknown protocol '%s'", rule, proto)
	}
	lo, hi, isRange := strings.Cut(port, ":")
	ports := []string{lo}
	if isRange {
		ports = append(ports, hi)
	}
	for _, p := range ports {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("firewall rule '%s' has invalid port '%s'", rule, p)
		}
	}
	if isRange && !hasProto {
		return fmt.Errorf("firewall rule '%s' port range requires a protocol", rule)
	}
	return nil
}

func init() {
	RegisterKind(KindFirewallRule, func() KindType { return &FirewallRuleType{} })
}
