package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type route struct {
	topic string
	name  string
	h     Handler
}

// Bridge wires topics to their consumers. Components only ever publish;
// the bridge owns who listens, so producers and consumers never reference
// each other.
type Bridge struct {
	Transport   Transport
	GroupPrefix string
	Logger      *zap.Logger
	// StatsInterval controls the periodic delivery log; zero means 1m.
	StatsInterval time.Duration

	mu     sync.Mutex
	routes []route

	delivered uint64
	failed    uint64
}

func (b *Bridge) Publish(ctx context.Context, topic string, env Envelope) error {
	if b == nil || b.Transport == nil {
		return nil
	}
	return b.Transport.Publish(ctx, topic, env)
}

// Route registers h as consumer name on topic. Every route gets its own
// consumer group, so each consumer sees every event once.
func (b *Bridge) Route(topic, name string, h Handler) {
	if b == nil || h == nil || strings.TrimSpace(topic) == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = append(b.routes, route{topic: topic, name: name, h: b.count(h)})
	if d, ok := b.Transport.(interface{ Declare(topic, group string) }); ok {
		d.Declare(topic, b.group(name))
	}
}

func (b *Bridge) group(name string) string {
	prefix := strings.TrimSpace(b.GroupPrefix)
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (b *Bridge) count(h Handler) Handler {
	return func(ctx context.Context, env Envelope) error {
		if err := h(ctx, env); err != nil {
			atomic.AddUint64(&b.failed, 1)
			return err
		}
		atomic.AddUint64(&b.delivered, 1)
		return nil
	}
}

// Run starts one consumer per route and blocks until ctx is done or a
// consumer fails for a reason other than cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	if b == nil || b.Transport == nil {
		return nil
	}
	b.mu.Lock()
	routes := append([]route(nil), b.routes...)
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(routes))
	var wg sync.WaitGroup
	for _, r := range routes {
		wg.Add(1)
		go func(r route) {
			defer wg.Done()
			err := b.Transport.Consume(ctx, r.topic, b.group(r.name), r.h)
			if err != nil && !errors.Is(err, context.Canceled) {
				b.logger().Error("event consumer stopped",
					zap.String("topic", r.topic),
					zap.String("consumer", r.name),
					zap.Error(err),
				)
				errCh <- err
			}
		}(r)
	}

	interval := b.StatsInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case err := <-errCh:
			runErr = err
			break loop
		case <-ticker.C:
			b.logger().Info("event bridge stats",
				zap.Uint64("delivered", atomic.LoadUint64(&b.delivered)),
				zap.Uint64("failed", atomic.LoadUint64(&b.failed)),
			)
		}
	}
	cancel()
	wg.Wait()
	return runErr
}

func (b *Bridge) Stats() (delivered, failed uint64) {
	return atomic.LoadUint64(&b.delivered), atomic.LoadUint64(&b.failed)
}

func (b *Bridge) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// AuditLog returns a handler that writes every event to the structured log.
func AuditLog(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, env Envelope) error {
		logger.Info("domain event",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
			zap.String("key", env.Key),
			zap.Time("occurred_at", env.OccurredAt),
		)
		return nil
	}
}
