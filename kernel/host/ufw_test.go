package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ufwStatus = `Status: active

To                         Action      From
--                         ------      ----
22/tcp                     ALLOW       Anywhere
443/tcp                    ALLOW       Anywhere
5678                       DENY        Anywhere
22/tcp (v6)                ALLOW       Anywhere (v6)
`

type scriptedRunner struct {
	outputs map[string]Result
	errs    map[string]error
	calls   []string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	command := joinCommand(name, args)
	r.calls = append(r.calls, command)
	return r.outputs[command], r.errs[command]
}

func TestRuleAllowed(t *testing.T) {
	assert.True(t, ruleAllowed(ufwStatus, "22/tcp"))
	assert.True(t, ruleAllowed(ufwStatus, "443/tcp"))
	assert.False(t, ruleAllowed(ufwStatus, "5678"))
	assert.False(t, ruleAllowed(ufwStatus, "80/tcp"))
}

func TestUFW_Allow(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]Result{"ufw status": {Stdout: ufwStatus}}}
	fw := &UFW{Runner: runner}

	allowed, err := fw.IsAllowed(context.Background(), "443/tcp")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, fw.Allow(context.Background(), "80/tcp"))
	require.NoError(t, fw.Delete(context.Background(), "80/tcp"))
	assert.Equal(t, []string{"ufw status", "ufw allow 80/tcp", "ufw delete allow 80/tcp"}, runner.calls)
}

func TestUFW_IsAllowedInactiveFirewall(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]Result{"ufw status": {Stdout: "Status: inactive\n"}}}
	_, err := (&UFW{Runner: runner}).IsAllowed(context.Background(), "443/tcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}
