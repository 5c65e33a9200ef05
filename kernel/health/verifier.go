package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/oliveagle/jsonpath"
	"github.com/openziti/fabkeep/kernel/model"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 1 << 20

// Verifier polls health probes until they report an expected status or run out of attempts.
type Verifier struct {
	Client *http.Client
	Dialer *net.Dialer
}

func NewVerifier() *Verifier {
	return &Verifier{
		Client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		Dialer: &net.Dialer{},
	}
}

// Verify checks every probe concurrently. It never returns an error for a failing probe; failure is carried
// in the result for the caller to escalate.
func (v *Verifier) Verify(ctx context.Context, probes []*model.HealthProbe) model.VerificationResult {
	results := cmap.New[model.ProbeResult]()

	g := &errgroup.Group{}
	for _, probe := range probes {
		probe := probe
		g.Go(func() error {
			results.Set(probe.Name, v.Check(ctx, probe))
			return nil
		})
	}
	_ = g.Wait()

	out := model.VerificationResult{Pass: true}
	for _, probe := range probes {
		r, _ := results.Get(probe.Name)
		if !r.Pass {
			out.Pass = false
		}
		out.Probes = append(out.Probes, r)
	}
	return out
}

// Check runs one probe through its retry schedule.
func (v *Verifier) Check(ctx context.Context, probe *model.HealthProbe) model.ProbeResult {
	log := pfxlog.Logger().WithField("probe", probe.Name)
	start := time.Now()
	result := model.ProbeResult{Name: probe.Name, URL: probe.URL}

	maxAttempts := probe.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if delay := probe.Retry.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				result.LastError = ctx.Err().Error()
				result.Duration = time.Since(start)
				return result
			case <-timer.C:
			}
		}

		result.Attempts = attempt
		status, err := v.attempt(ctx, probe)
		result.LastStatus = status
		if err == nil {
			result.Pass = true
			result.LastError = ""
			log.Debugf("passed on attempt %d with status %d", attempt, status)
			break
		}
		result.LastError = err.Error()
		log.Debugf("attempt %d/%d failed: %v", attempt, maxAttempts, err)
	}

	if !result.Pass {
		log.Warnf("failed after %d attempts: %s", result.Attempts, result.LastError)
	}
	result.Duration = time.Since(start)
	return result
}

func (v *Verifier) attempt(ctx context.Context, probe *model.HealthProbe) (int, error) {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = model.DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(probe.URL)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid probe url [%s]", probe.URL)
	}
	if u.Scheme == "tcp" {
		conn, err := v.Dialer.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return 0, err
		}
		_ = conn.Close()
		return 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !probe.Expects(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return resp.StatusCode, fmt.Errorf("unexpected status %d, expected one of %v", resp.StatusCode, probe.Expect)
	}
	if probe.JsonPath == "" {
		return resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, errors.Wrap(err, "unable to read body")
	}
	if err := matchJsonPath(body, probe.JsonPath, probe.Equals); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

func matchJsonPath(body []byte, path, equals string) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return errors.Wrap(err, "body is not json")
	}
	value, err := jsonpath.JsonPathLookup(doc, path)
	if err != nil {
		return errors.Wrapf(err, "json path [%s] not found", path)
	}
	if equals == "" {
		return nil
	}
	if got := fmt.Sprint(value); got != equals {
		return fmt.Errorf("json path [%s] is '%s', expected '%s'", path, got, equals)
	}
	return nil
}
