package handlers

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/types"
)

// TCPProbe dials a TCP address with a timeout. Adapted from the
// teacher's TCPChecker, aimed at the handler contract instead of at a
// running container.
type TCPProbe struct{}

func (t *TCPProbe) Validate(spec types.Spec) error {
	addr, ok := spec["address"].(string)
	if !ok || addr == "" {
		return fmt.Errorf("tcp_probe: missing required string field address")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("tcp_probe: address must be host:port: %w", err)
	}
	return nil
}

func (t *TCPProbe) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	addr := spec["address"].(string)
	timeout := 5 * time.Second
	if v, ok := toFloat(spec["timeout_seconds"]); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	rc.ReportProgress(0, "dialing")
	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp_probe: dial %s: %w", addr, err)
	}
	defer conn.Close()
	rc.ReportProgress(1, "done")

	return types.Result{
		"connected":   true,
		"latency_ms":  time.Since(start).Milliseconds(),
	}, nil
}
