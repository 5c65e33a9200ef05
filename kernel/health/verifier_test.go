package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) model.RetryPolicy {
	return model.RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
}

func TestVerify_RecoversAfterUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := &model.HealthProbe{Name: "status", URL: srv.URL + "/status", Expect: []int{200, 401}, Timeout: time.Second, Retry: fastRetry(10)}
	result := NewVerifier().Verify(context.Background(), []*model.HealthProbe{probe})

	require.Len(t, result.Probes, 1)
	assert.True(t, result.Pass)
	assert.True(t, result.Probes[0].Pass)
	assert.Equal(t, 6, result.Probes[0].Attempts)
	assert.Equal(t, 200, result.Probes[0].LastStatus)
}

func TestVerify_ExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	probe := &model.HealthProbe{Name: "down", URL: srv.URL, Expect: []int{200}, Timeout: time.Second, Retry: fastRetry(3)}
	result := NewVerifier().Verify(context.Background(), []*model.HealthProbe{probe})

	assert.False(t, result.Pass)
	assert.Equal(t, 3, result.Probes[0].Attempts)
	assert.Equal(t, 502, result.Probes[0].LastStatus)
	assert.Contains(t, result.Probes[0].LastError, "unexpected status 502")
}

func TestVerify_AcceptsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	probe := &model.HealthProbe{Name: "auth", URL: srv.URL, Expect: []int{200, 401}, Timeout: time.Second, Retry: fastRetry(1)}
	result := NewVerifier().Verify(context.Background(), []*model.HealthProbe{probe})
	assert.True(t, result.Pass)
	assert.Equal(t, 1, result.Probes[0].Attempts)
}

func TestVerify_JsonPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok", "db": {"connected": true}}`))
	}))
	defer srv.Close()

	ok := &model.HealthProbe{Name: "ok", URL: srv.URL, Expect: []int{200}, Retry: fastRetry(1), JsonPath: "$.status", Equals: "ok"}
	nested := &model.HealthProbe{Name: "nested", URL: srv.URL, Expect: []int{200}, Retry: fastRetry(1), JsonPath: "$.db.connected", Equals: "true"}
	wrong := &model.HealthProbe{Name: "wrong", URL: srv.URL, Expect: []int{200}, Retry: fastRetry(2), JsonPath: "$.status", Equals: "degraded"}

	result := NewVerifier().Verify(context.Background(), []*model.HealthProbe{ok, nested, wrong})
	require.Len(t, result.Probes, 3)
	assert.True(t, result.Probes[0].Pass)
	assert.True(t, result.Probes[1].Pass)
	assert.False(t, result.Probes[2].Pass)
	assert.False(t, result.Pass)
}

func TestVerify_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	addr := ln.Addr().String()

	open := &model.HealthProbe{Name: "open", URL: "tcp://" + addr, Timeout: time.Second, Retry: fastRetry(1)}
	result := NewVerifier().Verify(context.Background(), []*model.HealthProbe{open})
	assert.True(t, result.Pass)

	require.NoError(t, ln.Close())
	closed := &model.HealthProbe{Name: "closed", URL: "tcp://" + addr, Timeout: 200 * time.Millisecond, Retry: fastRetry(2)}
	result = NewVerifier().Verify(context.Background(), []*model.HealthProbe{closed})
	assert.False(t, result.Pass)
	assert.Equal(t, 2, result.Probes[0].Attempts)
}

func TestVerify_SlowProbeDoesNotBlockOthers(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer fast.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer slow.Close()

	slowProbe := &model.HealthProbe{Name: "slow", URL: slow.URL, Expect: []int{200}, Timeout: time.Second,
		Retry: model.RetryPolicy{MaxAttempts: 3, InitialDelay: 150 * time.Millisecond, Multiplier: 1}}
	fastProbe := &model.HealthProbe{Name: "fast", URL: fast.URL, Expect: []int{200}, Timeout: time.Second, Retry: fastRetry(1)}

	start := time.Now()
	result := NewVerifier().Verify(context.Background(), []*model.HealthProbe{slowProbe, fastProbe})
	elapsed := time.Since(start)

	assert.False(t, result.Probes[0].Pass)
	assert.True(t, result.Probes[1].Pass)
	assert.Less(t, result.Probes[1].Duration, 150*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestVerify_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	probe := &model.HealthProbe{Name: "p", URL: srv.URL, Expect: []int{200}, Timeout: time.Second,
		Retry: model.RetryPolicy{MaxAttempts: 100, InitialDelay: time.Second, Multiplier: 1}}

	result := NewVerifier().Verify(ctx, []*model.HealthProbe{probe})
	assert.False(t, result.Pass)
	assert.True(t, strings.Contains(result.Probes[0].LastError, "deadline"))
}
