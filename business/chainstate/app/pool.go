package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/logger"
)

// probeTimeout bounds the liveness probe raced against each candidate handle.
const probeTimeout = 5 * time.Second

// Handle is one live peer connection owned by the pool. Callers borrow a
// handle for the duration of one operation and never retain it.
type Handle struct {
	Chain      string
	Network    string
	Capability domain.Capability
	Client     NodeClient
}

// poolMetrics holds OTEL metric instruments.
type poolMetrics struct {
	acquires      metric.Int64Counter
	probeFailures metric.Int64Counter
	evictions     metric.Int64Counter
	dials         metric.Int64Counter
	handles       metric.Int64Gauge
}

// Pool owns, health-checks and recycles peer connections keyed by
// (chain, network). Concurrent acquisition may race to dial a new handle
// for the same key; the resulting duplicate is tolerated rather than
// serialized behind a per-key lock.
type Pool struct {
	dialer Dialer
	logger logger.LoggerInterface

	mu      sync.Mutex
	handles map[string][]*Handle // insertion order per key

	tracer  trace.Tracer
	metrics *poolMetrics
}

// NewPool creates an empty connection pool using dialer for new connections.
func NewPool(dialer Dialer, log logger.LoggerInterface) (*Pool, error) {
	p := &Pool{
		dialer:  dialer,
		logger:  log,
		handles: make(map[string][]*Handle),
		tracer:  otel.Tracer(tracerName),
	}
	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return p, nil
}

// initMetrics initializes OTEL metric instruments.
func (p *Pool) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	p.metrics = &poolMetrics{}

	p.metrics.acquires, err = meter.Int64Counter(
		"pool_acquires_total",
		metric.WithDescription("Total pool acquisitions"),
		metric.WithUnit("{acquire}"),
	)
	if err != nil {
		return err
	}

	p.metrics.probeFailures, err = meter.Int64Counter(
		"pool_probe_failures_total",
		metric.WithDescription("Total failed liveness probes"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	p.metrics.evictions, err = meter.Int64Counter(
		"pool_evictions_total",
		metric.WithDescription("Handles removed after failed reconnect"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return err
	}

	p.metrics.dials, err = meter.Int64Counter(
		"pool_dials_total",
		metric.WithDescription("New connections established"),
		metric.WithUnit("{dial}"),
	)
	if err != nil {
		return err
	}

	p.metrics.handles, err = meter.Int64Gauge(
		"pool_handles",
		metric.WithDescription("Current number of pooled handles"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return err
	}

	return nil
}

func poolKey(chain, network string) string {
	return chain + "/" + network
}

// Acquire returns a live handle for (chain, network) whose capability tag
// satisfies the requested capability. Existing handles are probed in
// insertion order and the first responsive one wins; an unresponsive handle
// gets one in-place reconnect attempt before being evicted. When no pooled
// handle is usable a new connection is dialed.
func (p *Pool) Acquire(ctx context.Context, chain, network string, capability domain.Capability) (*Handle, error) {
	ctx, span := p.tracer.Start(ctx, "pool.acquire",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("network", network),
			attribute.String("capability", string(capability)),
		),
	)
	defer span.End()

	p.metrics.acquires.Add(ctx, 1)

	key := poolKey(chain, network)
	for _, h := range p.snapshot(key) {
		if !h.Capability.Satisfies(capability) {
			continue
		}
		if err := p.probe(ctx, h); err == nil {
			span.SetStatus(codes.Ok, "reused")
			return h, nil
		}

		p.metrics.probeFailures.Add(ctx, 1)
		p.logger.Warn(ctx, "pool handle failed liveness probe",
			"chain", chain, "network", network, "capability", h.Capability)

		if err := h.Client.Reconnect(ctx); err == nil {
			span.AddEvent("handle_reconnected")
			return h, nil
		}

		p.evict(ctx, key, h)
		p.logger.Warn(ctx, "pool handle evicted after failed reconnect",
			"chain", chain, "network", network, "capability", h.Capability)
	}

	// No pooled handle was usable; dial a fresh one. Concurrent callers may
	// race here and create duplicates for the same key, which is tolerated.
	client, err := p.dialer.Dial(ctx, chain, network, capability)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, apperror.New(apperror.CodePoolExhausted,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("no usable connection for %s/%s (%s)", chain, network, capability)))
	}

	h := &Handle{Chain: chain, Network: network, Capability: capability, Client: client}

	p.mu.Lock()
	p.handles[key] = append(p.handles[key], h)
	total := p.size()
	p.mu.Unlock()

	p.metrics.dials.Add(ctx, 1)
	p.metrics.handles.Record(ctx, int64(total))
	p.logger.Info(ctx, "pool dialed new handle",
		"chain", chain, "network", network, "capability", capability)

	span.SetStatus(codes.Ok, "dialed")
	return h, nil
}

// probe races a cheap tip-height lookup against probeTimeout. A probe that
// never resolves must not block the caller past the timeout.
func (p *Pool) probe(ctx context.Context, h *Handle) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Client.TipHeight(probeCtx)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-probeCtx.Done():
		return apperror.New(apperror.CodePeerProbeTimeout,
			apperror.WithContext(fmt.Sprintf("%s/%s", h.Chain, h.Network)))
	}
}

// snapshot copies the handle list for key so probing happens off the lock.
func (p *Pool) snapshot(key string) []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Handle, len(p.handles[key]))
	copy(out, p.handles[key])
	return out
}

// evict permanently removes h from the pool and closes its connection.
func (p *Pool) evict(ctx context.Context, key string, h *Handle) {
	p.mu.Lock()
	list := p.handles[key]
	for i, cand := range list {
		if cand == h {
			p.handles[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	total := p.size()
	p.mu.Unlock()

	h.Client.Close()
	p.metrics.evictions.Add(ctx, 1)
	p.metrics.handles.Record(ctx, int64(total))
}

// size returns the total handle count. Caller must hold p.mu.
func (p *Pool) size() int {
	n := 0
	for _, list := range p.handles {
		n += len(list)
	}
	return n
}

// Size returns the total number of pooled handles.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size()
}

// Shutdown closes every pooled connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, list := range p.handles {
		for _, h := range list {
			h.Client.Close()
		}
		delete(p.handles, key)
	}
}
