package server

import (
	"context"
	"fmt"
)

// healthChecker is implemented by dependencies exposing a native health RPC:
// *rag.QdrantIndex and the embedder backends.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckPinger probes a dependency through its HealthCheck method.
// It satisfies the Pinger interface and is used by GET /api/ready.
type HealthCheckPinger struct {
	// target is the dependency to probe.
	target healthChecker
	// name identifies the dependency in readiness responses (e.g. "qdrant").
	name string
}

// NewHealthCheckPinger constructs a HealthCheckPinger for target.
func NewHealthCheckPinger(name string, target healthChecker) *HealthCheckPinger {
	return &HealthCheckPinger{target: target, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *HealthCheckPinger) Name() string { return p.name }

// Ping calls the dependency's HealthCheck.
func (p *HealthCheckPinger) Ping(ctx context.Context) error {
	if err := p.target.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// pingable is implemented by connection-backed dependencies:
// *ledger.SQLStore and *lock.Redis.
type pingable interface {
	Ping(ctx context.Context) error
}

// ConnPinger probes a dependency through its Ping method.
type ConnPinger struct {
	// target is the dependency to probe.
	target pingable
	// name identifies the dependency in readiness responses (e.g. "ledger").
	name string
}

// NewConnPinger constructs a ConnPinger for target.
func NewConnPinger(name string, target pingable) *ConnPinger {
	return &ConnPinger{target: target, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *ConnPinger) Name() string { return p.name }

// Ping calls the dependency's Ping.
func (p *ConnPinger) Ping(ctx context.Context) error {
	if err := p.target.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
