package membership

import (
	"context"
	"sync"
	"time"
)

// TimerEvent is posted into the Coordinator's event queue when a
// periodic timer fires. The Coordinator decides what each kind does;
// the scheduler only owns the ticking.
type TimerEvent struct {
	Kind TimerKind
}

// TimerKind distinguishes the three periodic timers of spec.md §4.5.
type TimerKind int

const (
	TimerPassiveViewMaintenance TimerKind = iota
	TimerRandomPromotion
	TimerTreeRefresh
)

// TimerScheduler runs the three periodic timers named in spec.md §4.5
// as independent cooperative tasks (spec.md §5) that feed TimerEvents
// into a channel the Coordinator drains. Grounded on the teacher's
// gossip.go pingLoop/failureDetectionLoop: a time.Ticker plus a select
// against a done channel, one goroutine per timer.
type TimerScheduler struct {
	events chan TimerEvent

	shufflePeriod   time.Duration
	promotionPeriod time.Duration
	refreshPeriod   time.Duration

	promotionEnabled bool
	refreshEnabled   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTimerScheduler builds a scheduler from Config. The shuffle and
// tree_refresh periods come from Config; the random promotion timer is
// fixed at 5s.
func NewTimerScheduler(cfg Config) *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		events:           make(chan TimerEvent, 16),
		shufflePeriod:    cfg.PassiveViewShufflePeriod,
		promotionPeriod:  5 * time.Second,
		refreshPeriod:    cfg.TreeRefreshPeriod,
		promotionEnabled: cfg.RandomPromotion,
		refreshEnabled:   cfg.Broadcast,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Events returns the channel the Coordinator should select on.
func (s *TimerScheduler) Events() <-chan TimerEvent {
	return s.events
}

// Start launches the three periodic goroutines.
func (s *TimerScheduler) Start() {
	s.wg.Add(1)
	go s.loop(s.shufflePeriod, TimerPassiveViewMaintenance, true)

	if s.promotionEnabled {
		s.wg.Add(1)
		go s.loop(s.promotionPeriod, TimerRandomPromotion, true)
	}

	if s.refreshEnabled {
		s.wg.Add(1)
		go s.loop(s.refreshPeriod, TimerTreeRefresh, true)
	}
}

func (s *TimerScheduler) loop(period time.Duration, kind TimerKind, _ bool) {
	defer s.wg.Done()
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			select {
			case s.events <- TimerEvent{Kind: kind}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// Stop cancels every timer goroutine and waits for them to exit.
func (s *TimerScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.events)
}
