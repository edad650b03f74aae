package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"feedfilter/internal/model"
)

// DefaultPushDelay coalesces bursts of settings edits into one update.
const DefaultPushDelay = 300 * time.Millisecond

// Target receives update messages.
type Target interface {
	Handle(ctx context.Context, msg Message) (Response, error)
}

// Source provides the persisted configuration to push.
type Source interface {
	Rules(ctx context.Context) []model.Rule
	Exemptions(ctx context.Context) model.ExemptionConfig
}

// Pusher sends the persisted configuration to a target after edits.
type Pusher struct {
	target Target
	source Source
	log    *slog.Logger
	delay  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewPusher creates a Pusher.
func NewPusher(target Target, source Source, log *slog.Logger) *Pusher {
	return &Pusher{target: target, source: source, log: log, delay: DefaultPushDelay}
}

// SetDelay overrides the debounce delay.
func (p *Pusher) SetDelay(d time.Duration) {
	p.delay = d
}

// Notify schedules a push, restarting the delay if one is already pending.
func (p *Pusher) Notify(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.delay, func() {
		if ctx.Err() != nil {
			return
		}
		_ = p.Push(ctx)
	})
}

// Push sends the current configuration now. Failures are logged at debug: a
// target that is not ready picks the configuration up on its own start.
func (p *Pusher) Push(ctx context.Context) error {
	ex := p.source.Exemptions(ctx)
	msg := Message{
		Action:     ActionUpdateFilters,
		Filters:    p.source.Rules(ctx),
		Exceptions: &ex,
	}
	if _, err := p.target.Handle(ctx, msg); err != nil {
		p.log.Debug("push filters", "error", err)
		return err
	}
	return nil
}

// Stop cancels a pending push.
func (p *Pusher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}
