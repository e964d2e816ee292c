package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hookrouter/internal/types"
)

// healthCheckTimeout bounds the whole probe fan-out. Probes still running
// at the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one dependency check reported by GET /health.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type probeFunc struct {
	name  string
	check func(ctx context.Context) error
}

func (p probeFunc) Name() string                    { return p.name }
func (p probeFunc) Check(ctx context.Context) error { return p.check(ctx) }

// ProbeFunc adapts a function to HealthProbe.
func ProbeFunc(name string, check func(ctx context.Context) error) HealthProbe {
	return probeFunc{name: name, check: check}
}

// QueueProbe reports the queue healthy when its status can be read.
func QueueProbe(q interface {
	Status(ctx context.Context) (types.QueueStatus, error)
}) HealthProbe {
	return ProbeFunc("queue", func(ctx context.Context) error {
		_, err := q.Status(ctx)
		return err
	})
}

// RuleStoreProbe reports the rule store healthy when it can list rules.
func RuleStoreProbe(store types.RuleStore) HealthProbe {
	return ProbeFunc("rules", func(ctx context.Context) error {
		_, err := store.GetAllRules(ctx)
		return err
	})
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every registered probe concurrently and answers 200 when
// all pass, 503 otherwise. It is mounted outside /v1 and skips API key auth.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Version: s.version()}
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	type result struct {
		idx int
		err error
	}
	// Buffered so late probes never block after the handler returns.
	results := make(chan result, len(s.HealthProbes))
	for i, probe := range s.HealthProbes {
		go func() {
			var err error
			defer func() {
				if rvr := recover(); rvr != nil {
					err = fmt.Errorf("probe panicked: %v", rvr)
				}
				results <- result{idx: i, err: err}
			}()
			err = probe.Check(ctx)
		}()
	}

	errs := make([]error, len(s.HealthProbes))
	done := make([]bool, len(s.HealthProbes))
	for range s.HealthProbes {
		select {
		case res := <-results:
			errs[res.idx], done[res.idx] = res.err, true
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	for i, probe := range s.HealthProbes {
		switch {
		case !done[i]:
			resp.Status = "unhealthy"
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case errs[i] != nil:
			resp.Status = "unhealthy"
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: errs[i].Error()}
		default:
			resp.Components[probe.Name()] = componentStatus{Status: "healthy"}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}
