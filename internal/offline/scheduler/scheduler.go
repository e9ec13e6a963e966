// Package scheduler decides when the outbox is drained and when a full
// reconciliation runs.
//
// Drains are triggered by:
//  1. The app returning to the foreground
//  2. A periodic ticker, only while the app is active
//  3. The network becoming reachable
//  4. An explicit TriggerDrain (CLI, trigger files)
//
// Triggers are coalesced through a one-slot channel into a single worker
// goroutine, so a burst of triggers produces at most one extra drain.
// Refresh runs a full reconciliation synchronously.
package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/netmon"
	"github.com/jobtrack/jobtrack/internal/offline/processor"
	"github.com/jobtrack/jobtrack/internal/offline/reconcile"
)

// Sentinel errors for scheduler lifecycle.
var (
	ErrNotStarted     = errors.New("scheduler not started")
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNoUser         = errors.New("user id is required")
)

// AppState is the foreground state of the host application.
type AppState string

const (
	StateActive     AppState = "active"
	StateBackground AppState = "background"
	StateInactive   AppState = "inactive"
)

// Drainer flushes the outbox.
type Drainer interface {
	Drain(ctx context.Context) (processor.Result, error)
}

// Reconciler performs a full pull.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (reconcile.Report, error)
}

// Network reports connectivity and its changes.
type Network interface {
	Connected() bool
	Subscribe(l netmon.Listener) (unsubscribe func())
}

// Config holds configuration for the scheduler.
type Config struct {
	// Interval between periodic drains while active.
	Interval time.Duration

	// DrainOnStart triggers a drain as soon as the scheduler starts.
	DrainOnStart bool

	// Logger for scheduler activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:     15 * time.Minute,
		DrainOnStart: true,
		Logger:       log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// Scheduler owns the sync triggers of one user session.
type Scheduler struct {
	drainer    Drainer
	reconciler Reconciler
	network    Network
	config     *Config

	mu          sync.Mutex
	running     bool
	userID      string
	state       AppState
	unsubscribe func()
	trigger     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. network and reconciler may be nil: without a
// network every trigger fires, without a reconciler Refresh only drains.
func New(drainer Drainer, reconciler Reconciler, network Network, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Scheduler{
		drainer:    drainer,
		reconciler: reconciler,
		network:    network,
		config:     config,
		state:      StateActive,
	}
}

// Start begins scheduling for userID (login).
func (s *Scheduler) Start(userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.trigger = make(chan struct{}, 1)
	s.userID = userID
	s.running = true

	if s.network != nil {
		s.unsubscribe = s.network.Subscribe(func(prev, next netmon.NetworkInfo) {
			if netmon.BecameConnected(prev, next) {
				s.config.Logger.Println("Network reachable, scheduling drain")
				s.TriggerDrain()
			}
		})
	}

	s.wg.Add(2)
	go s.worker(s.ctx, s.trigger)
	go s.tick(s.ctx)

	s.config.Logger.Printf("Started for user %s (interval %s)", userID, s.config.Interval)
	if s.config.DrainOnStart {
		s.enqueueLocked()
	}
	return nil
}

// Stop cancels every timer and waits for running work (logout). Pending
// triggers are discarded.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.userID = ""
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.trigger = nil
	s.mu.Unlock()

	s.config.Logger.Println("Stopped")
	return nil
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// UserID returns the user the scheduler was started for.
func (s *Scheduler) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State returns the last reported app state.
func (s *Scheduler) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AppStateChanged records a new app state. Returning to active from any
// other state triggers a drain.
func (s *Scheduler) AppStateChanged(state AppState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = state
	if s.running && state == StateActive && prev != StateActive {
		s.config.Logger.Printf("App became active (was %s), scheduling drain", prev)
		s.enqueueLocked()
	}
}

// TriggerDrain schedules a drain. It returns false if the scheduler is not
// running or a drain is already pending.
func (s *Scheduler) TriggerDrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	return s.enqueueLocked()
}

func (s *Scheduler) enqueueLocked() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Refresh runs a full reconciliation for the started user.
func (s *Scheduler) Refresh(ctx context.Context) (reconcile.Report, error) {
	s.mu.Lock()
	running, userID := s.running, s.userID
	s.mu.Unlock()

	if !running {
		return reconcile.Report{}, ErrNotStarted
	}
	if s.reconciler == nil {
		var rep reconcile.Report
		rep.Drain, rep.DrainErr = s.drainer.Drain(ctx)
		return rep, nil
	}
	return s.reconciler.Reconcile(ctx, userID)
}

// worker runs one drain per coalesced trigger.
func (s *Scheduler) worker(ctx context.Context, trigger <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	if s.network != nil && !s.network.Connected() {
		return
	}
	res, err := s.drainer.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		s.config.Logger.Printf("Drain failed: %v", err)
	}
	if res.Skipped != processor.SkipNone {
		s.config.Logger.Printf("Drain skipped: %s", res.Skipped)
	}
}

// tick triggers periodic drains while the app is active.
func (s *Scheduler) tick(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.running && s.state == StateActive {
				s.enqueueLocked()
			}
			s.mu.Unlock()
		}
	}
}
