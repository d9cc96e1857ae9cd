package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the tier adjuster periodically in the background.
//
// The sweeper owns its lifecycle: Start launches the loop, Stop signals it
// to exit. Stopping never interrupts a scope mid-sweep; the in-progress
// scope finishes before the loop checks the stop signal, so tier
// assignments are never left partial.
//
// Thread safety: all public methods are safe for concurrent use.
type Sweeper struct {
	adjuster *TierAdjuster
	interval time.Duration
	scopes   []Scope
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	logger *zap.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the time between sweeps. Defaults to one hour.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = interval
	}
}

// WithSweepScopes sets which scopes each sweep covers. Defaults to all.
func WithSweepScopes(scopes []Scope) SweeperOption {
	return func(s *Sweeper) {
		s.scopes = scopes
	}
}

// WithSweepTimeout bounds a single sweep run. Defaults to ten minutes.
func WithSweepTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.timeout = timeout
	}
}

// NewSweeper creates a sweeper. It does not start automatically; call
// Start to begin scheduled sweeps.
func NewSweeper(adjuster *TierAdjuster, logger *zap.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if adjuster == nil {
		return nil, fmt.Errorf("tier adjuster cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sweeper{
		adjuster: adjuster,
		interval: time.Hour,
		scopes:   AllScopes(),
		timeout:  10 * time.Minute,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	return s, nil
}

// Start begins the background sweep loop. Starting an already running
// sweeper is an error; no second goroutine is launched.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("tier sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("scopes", len(s.scopes)))

	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop signals the sweep loop to exit and waits for it to finish its
// current batch. Stopping a stopped sweeper is a no-op.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("tier sweeper stopped")
	return nil
}

func (s *Sweeper) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweeper goroutine panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep(stopCh)
		case <-stopCh:
			return
		}
	}
}

// safeSweep runs one full sweep with panic recovery so a single bad run
// cannot crash the scheduler.
func (s *Sweeper) safeSweep(stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep run panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, scope := range s.scopes {
		moved, err := s.adjuster.Adjust(ctx, scope)
		if err != nil {
			s.logger.Error("sweep failed for scope",
				zap.String("scope", string(scope)),
				zap.Error(err))
		} else if moved > 0 {
			s.logger.Info("sweep reclassified memories",
				zap.String("scope", string(scope)),
				zap.Int("moved", moved))
		}

		// Honor a stop between scopes; the scope just swept completed
		// in full.
		select {
		case <-stopCh:
			return
		default:
		}
	}
}
