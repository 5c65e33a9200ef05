package host

import (
	"bufio"
	"context"
	"strings"

	"github.com/pkg/errors"
)

// UFW manages port rules through the ufw front end.
type UFW struct {
	Runner Runner
}

func (u *UFW) IsAllowed(ctx context.Context, rule string) (bool, error) {
	res, err := u.Runner.Run(ctx, "ufw", "status")
	if err != nil {
		return false, errors.Wrap(err, "unable to read firewall status")
	}
	if !firewallActive(res.Stdout) {
		return false, errors.Errorf("firewall is not active, unable to check [%s]", rule)
	}
	return ruleAllowed(res.Stdout, rule), nil
}

// firewallActive reads the "Status:" header of `ufw status`. Rules are only listed while ufw is active.
func firewallActive(status string) bool {
	scanner := bufio.NewScanner(strings.NewReader(status))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, found := strings.CutPrefix(line, "Status:"); found {
			return strings.TrimSpace(value) == "active"
		}
	}
	return false
}

func (u *UFW) Allow(ctx context.Context, rule string) error {
	if _, err := u.Runner.Run(ctx, "ufw", "allow", rule); err != nil {
		return errors.Wrapf(err, "unable to allow [%s]", rule)
	}
	return nil
}

func (u *UFW) Delete(ctx context.Context, rule string) error {
	if _, err := u.Runner.Run(ctx, "ufw", "delete", "allow", rule); err != nil {
		return errors.Wrapf(err, "unable to delete [%s]", rule)
	}
	return nil
}

// ruleAllowed scans `ufw status` output for an ALLOW line whose target is rule.
func ruleAllowed(status, rule string) bool {
	scanner := bufio.NewScanner(strings.NewReader(status))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] != rule {
			continue
		}
		for _, f := range fields[1:] {
			if f == "ALLOW" {
				return true
			}
		}
	}
	return false
}
