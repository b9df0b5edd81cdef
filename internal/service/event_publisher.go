package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/notify"
)

// Bus names used for ledger events.
const (
	ChannelEvents = "ledger.events"
	StreamEvents  = "stream:ledger.events"
)

const (
	publishTimeout = 5 * time.Second
	notifyQueueLen = 256
)

// EventPublisher implements domain.EventPublisher. Each event is published
// on the bus, appended to the durable stream and written to the audit log
// inline; chat notifications are queued and sent by Run. Failures are
// logged and never returned.
type EventPublisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	pools    domain.PoolCache
	queue    chan domain.Event
	logger   *slog.Logger
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates an EventPublisher. Any dependency may be nil.
func NewEventPublisher(bus domain.SignalBus, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		queue:    make(chan domain.Event, notifyQueueLen),
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// WithPoolCache makes pool events drop the cached pool, so writers outside
// the HTTP path (the sweeper) do not leave stale reads behind.
func (p *EventPublisher) WithPoolCache(cache domain.PoolCache) *EventPublisher {
	p.pools = cache
	return p
}

// Publish delivers events. It outlives request cancellation so a client
// disconnect does not drop events of a committed operation.
func (p *EventPublisher) Publish(ctx context.Context, events ...domain.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, ev := range events {
		if loc, ok := poolOf(ev); ok && p.pools != nil {
			if err := p.pools.Invalidate(ctx, loc); err != nil {
				p.warn(ctx, "pool cache invalidate", ev, err)
			}
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.ErrorContext(ctx, "marshal event", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
			continue
		}
		if p.bus != nil {
			if err := p.bus.Publish(ctx, ChannelEvents, payload); err != nil {
				p.warn(ctx, "publish", ev, err)
			}
			if err := p.bus.StreamAppend(ctx, StreamEvents, payload); err != nil {
				p.warn(ctx, "stream append", ev, err)
			}
		}
		if p.audit != nil {
			if err := p.audit.Log(ctx, "ledger."+string(ev.Kind), auditDetail(ev)); err != nil {
				p.warn(ctx, "audit log", ev, err)
			}
		}
		if p.notifier.Enabled() && p.notifier.Allows(ev.Kind) {
			select {
			case p.queue <- ev:
			default:
				p.logger.WarnContext(ctx, "notify queue full, dropping event", slog.String("kind", string(ev.Kind)))
			}
		}
	}
}

// Run sends queued notifications until ctx is done.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := p.notifier.NotifyEvent(sendCtx, ev); err != nil {
				p.warn(sendCtx, "notify", ev, err)
			}
			cancel()
		}
	}
}

func (p *EventPublisher) warn(ctx context.Context, step string, ev domain.Event, err error) {
	p.logger.WarnContext(ctx, "event delivery failed",
		slog.String("step", step),
		slog.String("kind", string(ev.Kind)),
		slog.String("event_id", ev.ID),
		slog.String("error", err.Error()),
	)
}

// auditDetail flattens the payload to a JSON object and tags it with the
// event id.
func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{}
	if raw, err := json.Marshal(ev.Payload); err == nil {
		_ = json.Unmarshal(raw, &detail)
	}
	detail["event_id"] = ev.ID
	return detail
}

// poolOf returns the pool an event changed.
func poolOf(ev domain.Event) (common.Hash, bool) {
	switch v := ev.Payload.(type) {
	case domain.PoolCreated:
		return v.Pool, true
	case domain.PoolResolved:
		return v.Pool, true
	case domain.WeightsFinalized:
		return v.Pool, true
	case domain.PoolDelegated:
		return v.PoolAddress, true
	case domain.PoolUndelegated:
		return v.PoolAddress, true
	}
	return common.Hash{}, false
}
