package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/types"
)

// Ping is the PING job type named throughout spec §8's end-to-end
// scenarios: it sleeps for sleep_seconds, polling the abort flag in
// short slices so cooperative abort can take effect promptly.
type Ping struct {
	// PollInterval bounds how long a single sleep slice runs before the
	// abort flag is re-checked. Defaults to 100ms when zero.
	PollInterval time.Duration
}

func (p *Ping) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return 100 * time.Millisecond
	}
	return p.PollInterval
}

func (p *Ping) Validate(spec types.Spec) error {
	v, ok := spec["sleep_seconds"]
	if !ok {
		return fmt.Errorf("ping: missing required field sleep_seconds")
	}
	f, ok := toFloat(v)
	if !ok {
		return fmt.Errorf("ping: sleep_seconds must be a number")
	}
	if f < 0 {
		return fmt.Errorf("ping: sleep_seconds must be >= 0")
	}
	return nil
}

func (p *Ping) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	sleepSeconds, _ := toFloat(spec["sleep_seconds"])
	total := time.Duration(sleepSeconds * float64(time.Second))
	interval := p.pollInterval()

	rc.ReportProgress(0, "sleeping")
	elapsed := time.Duration(0)
	for elapsed < total {
		slice := interval
		if remaining := total - elapsed; remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return types.Result{"aborted": true}, nil
		case <-time.After(slice):
		}
		elapsed += slice
		if rc.IsAbortRequested() {
			return types.Result{"aborted": true}, nil
		}
		if total > 0 {
			rc.ReportProgress(float64(elapsed)/float64(total), "sleeping")
		}
	}
	rc.ReportProgress(1, "done")
	return types.Result{"slept_seconds": sleepSeconds}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
