package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/types"
)

// HTTPProbe performs a single HTTP request against a target URL and
// reports status and a truncated body snippet. Adapted from the
// teacher's HTTPChecker, aimed at the handler contract instead of at a
// running container's liveness endpoint.
type HTTPProbe struct{}

func (h *HTTPProbe) Validate(spec types.Spec) error {
	url, ok := spec["url"].(string)
	if !ok || url == "" {
		return fmt.Errorf("http_probe: missing required string field url")
	}
	if method, ok := spec["method"]; ok {
		if _, ok := method.(string); !ok {
			return fmt.Errorf("http_probe: method must be a string")
		}
	}
	return nil
}

func (h *HTTPProbe) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	url := spec["url"].(string)
	method := "GET"
	if m, ok := spec["method"].(string); ok && m != "" {
		method = m
	}
	timeout := 5 * time.Second
	if t, ok := toFloat(spec["timeout_seconds"]); ok && t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http_probe: build request: %w", err)
	}

	rc.ReportProgress(0, "requesting")
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_probe: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	rc.ReportProgress(1, "done")

	return types.Result{
		"status_code": resp.StatusCode,
		"body_sample": string(body),
	}, nil
}
