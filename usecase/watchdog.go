package usecase

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// watchdogLogInterval controls how often remaining time is logged
const watchdogLogInterval = 5 * time.Minute

// SessionWatchdog ends a session that outlives its maximum duration
type SessionWatchdog struct {
	clock    clock.Clock
	limit    time.Duration
	onExpire func()
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSessionWatchdog creates a watchdog; a non-positive limit disables it
func NewSessionWatchdog(clk clock.Clock, limit time.Duration, onExpire func(), logger *zap.Logger) *SessionWatchdog {
	return &SessionWatchdog{
		clock:    clk,
		limit:    limit,
		onExpire: onExpire,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins watching in the background
func (w *SessionWatchdog) Start() {
	if w.limit <= 0 {
		w.logger.Debug("Session watchdog disabled")
		return
	}
	go w.watchLoop()
	w.logger.Info("Session watchdog started", zap.Duration("limit", w.limit))
}

// Stop is safe to call more than once, including from onExpire
func (w *SessionWatchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}

func (w *SessionWatchdog) watchLoop() {
	started := w.clock.Now()
	deadline := w.clock.Timer(w.limit)
	defer deadline.Stop()

	ticker := w.clock.Ticker(watchdogLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.logger.Debug("Session still running",
				zap.Duration("remaining", w.limit-w.clock.Since(started)))
		case <-deadline.C:
			select {
			case <-w.stopChan:
				return
			default:
			}
			w.logger.Warn("Session exceeded maximum duration, ending it",
				zap.Duration("limit", w.limit))
			w.onExpire()
			return
		}
	}
}
