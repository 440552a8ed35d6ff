// Package notify pushes operator alerts to Telegram: profile pauses,
// fatal stops, and bootstrap trouble. Best effort by design; losing an
// alert never blocks or fails the scheduling core.
package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"siegebot/internal/eventbus"
	"siegebot/internal/sched"
	"siegebot/pkg/logx"
)

// Sender delivers one rendered alert. Implemented by the Telegram adapter;
// tests swap in a recorder.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Options struct {
	RatePerSec  int           // token bucket; default 1
	DedupWindow time.Duration // identical alerts inside the window are dropped; 0 disables
	QueueSize   int           // default 64
	SendTimeout time.Duration // per delivery; default 10s
}

type Service struct {
	log    logx.Logger
	sender Sender
	opts   Options

	limiter *rate.Limiter
	queue   chan string

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(log logx.Logger, sender Sender, opts Options) *Service {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Service{
		log:     log,
		sender:  sender,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		queue:   make(chan string, opts.QueueSize),
	}
}

// Alert queues one message. A full queue or a deduped repeat drops the
// message silently apart from a debug log.
func (s *Service) Alert(text string) {
	if text == "" {
		return
	}
	if !s.dedupAllow(text) {
		s.log.Debug("alert suppressed by dedup window")
		return
	}
	select {
	case s.queue <- text:
	default:
		s.log.Warn("alert queue full, dropping", logx.String("text", text))
	}
}

// Run is the delivery loop; run it under the supervisor. It exits on context
// cancellation only.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			sctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
			err := s.sender.Send(sctx, text)
			cancel()
			if err != nil {
				s.log.Warn("alert delivery failed", logx.Err(err))
			}
		}
	}
}

// WatchBus turns scheduling events into operator alerts. Run it under the
// supervisor alongside Run.
func (s *Service) WatchBus(bus eventbus.Bus) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ch, unsub := bus.Subscribe(32)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				if text := renderEvent(ev); text != "" {
					s.Alert(text)
				}
			}
		}
	}
}

// renderEvent maps bus events to alert texts. Routine task events render to
// "" and stay out of the operator's chat.
func renderEvent(ev eventbus.Event) string {
	profile, detail := eventFields(ev.Data)
	switch ev.Type {
	case eventbus.ProfilePaused:
		return fmt.Sprintf("⚠️ profile %s paused: %s", profile, detail)
	case eventbus.ProfileStopped:
		return fmt.Sprintf("🚨 profile %s stopped: %s", profile, detail)
	case eventbus.ProfileResumed:
		return fmt.Sprintf("profile %s resumed", profile)
	case eventbus.BootstrapRetrying:
		return fmt.Sprintf("⚠️ profile %s: game bring-up retrying", profile)
	default:
		return ""
	}
}

func eventFields(data any) (profile, detail string) {
	switch d := data.(type) {
	case sched.TaskEvent:
		return d.Profile, d.Detail
	case map[string]any:
		profile, _ = d["profile"].(string)
		detail, _ = d["detail"].(string)
		return profile, detail
	default:
		return "?", ""
	}
}

func (s *Service) dedupAllow(text string) bool {
	if s.opts.DedupWindow <= 0 {
		return true
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	key := fmt.Sprintf("%x", h.Sum64())

	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(s.opts.DedupWindow)
	return true
}
