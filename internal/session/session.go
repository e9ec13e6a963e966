// Package session composes the sync engine for one running app session.
//
// A Session owns every engine component and is passed explicitly to
// whatever needs them; there is no package-level state. Its lifecycle is:
//
//	Open    local database, outbox, store and network monitor
//	Login   transport, processor, reconciler and scheduler for a user
//	Start   background work: prober and scheduler (daemon only)
//	Logout  stops background work and releases the transport
//	Close   logs out and closes the database
//
// Local mutations work right after Open; sync operations need Login.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jobtrack/jobtrack/internal/config"
	"github.com/jobtrack/jobtrack/internal/logging"
	"github.com/jobtrack/jobtrack/internal/offline/db"
	"github.com/jobtrack/jobtrack/internal/offline/netmon"
	"github.com/jobtrack/jobtrack/internal/offline/outbox"
	"github.com/jobtrack/jobtrack/internal/offline/processor"
	"github.com/jobtrack/jobtrack/internal/offline/reconcile"
	"github.com/jobtrack/jobtrack/internal/offline/remote"
	"github.com/jobtrack/jobtrack/internal/offline/scheduler"
	"github.com/jobtrack/jobtrack/internal/offline/store"
)

// Sentinel errors for session lifecycle.
var (
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrClosed          = errors.New("session closed")
)

// Options configures Open.
type Options struct {
	Config *config.Config
	// Logs provides component loggers (default: stderr).
	Logs *logging.Logs
	// Transport overrides the transport built from Config.Remote.
	Transport remote.Transport
	// Now and NewID are passed to the store and outbox.
	Now   func() time.Time
	NewID func() string
}

// Session holds the engine components of one app session.
type Session struct {
	cfg  *config.Config
	logs *logging.Logs
	log  *log.Logger

	db      *db.DB
	queue   *outbox.Queue
	store   *store.Store
	monitor *netmon.Monitor
	prober  *netmon.Prober
	obs     *observers

	transportOverride remote.Transport

	mu         sync.Mutex
	closed     bool
	userID     string
	transport  remote.Transport
	remoteConn *sql.DB
	processor  *processor.Processor
	reconciler *reconcile.Reconciler
	scheduler  *scheduler.Scheduler
	background bool
}

// Open loads local state. The returned session is not logged in.
func Open(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logs := opts.Logs
	if logs == nil {
		var err error
		if logs, err = logging.New(logging.Options{}); err != nil {
			return nil, err
		}
	}

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, err
	}

	s := &Session{
		cfg:               cfg,
		logs:              logs,
		log:               logs.Logger("session"),
		db:                database,
		obs:               &observers{},
		transportOverride: opts.Transport,
	}

	var backend outbox.Backend
	if cfg.Sync.PersistOutbox {
		backend = database
	}
	s.queue = outbox.New(outbox.Options{
		Backend:  backend,
		Now:      opts.Now,
		NewID:    opts.NewID,
		Logger:   logs.Logger("outbox"),
		OnChange: s.obs.OnQueueChanged,
	})
	if cfg.Sync.PersistOutbox {
		items, err := database.LoadQueue()
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		s.queue.Restore(items)
	}

	s.store = store.New(s.queue, store.Options{
		Now:       opts.Now,
		NewID:     opts.NewID,
		Persister: database,
		Logger:    logs.Logger("store"),
	})
	snap, err := database.LoadSnapshot()
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	s.store.Restore(snap)

	s.monitor = netmon.New(logs.Logger("netmon"))
	s.monitor.Subscribe(s.obs.OnNetworkChange)
	s.prober = netmon.NewProber(s.monitor, netmon.ProberConfig{
		URL:      probeURL(cfg),
		Interval: cfg.Network.ProbeInterval,
		Timeout:  cfg.Network.ProbeTimeout,
	})

	s.log.Printf("Opened %s (%d queued)", database.Path(), s.queue.Len())
	return s, nil
}

// probeURL picks the reachability target: the configured URL, else the
// remote's own host.
func probeURL(cfg *config.Config) string {
	if cfg.Network.ProbeURL != "" {
		return cfg.Network.ProbeURL
	}
	switch cfg.Remote.Kind {
	case config.RemoteHTTP:
		return cfg.Remote.URL
	case config.RemoteLibSQL:
		u, err := url.Parse(cfg.Remote.URL)
		if err != nil || u.Host == "" {
			return ""
		}
		return "https://" + u.Host
	}
	return ""
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Store returns the local entity store.
func (s *Session) Store() *store.Store { return s.store }

// Queue returns the outbox.
func (s *Session) Queue() *outbox.Queue { return s.queue }

// Monitor returns the network monitor.
func (s *Session) Monitor() *netmon.Monitor { return s.monitor }

// DB returns the local database.
func (s *Session) DB() *db.DB { return s.db }

// Observe registers o for engine events until the session closes.
func (s *Session) Observe(o Observer) {
	s.obs.add(o)
}

// UserID returns the logged-in user, or "".
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Scheduler returns the scheduler, or nil before Login.
func (s *Session) Scheduler() *scheduler.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler
}

// Login builds the sync pipeline for userID. No background work starts
// until Start.
func (s *Session) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return scheduler.ErrNoUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.userID != "" {
		return ErrAlreadyLoggedIn
	}

	transport, conn, err := s.openTransport(ctx, userID)
	if err != nil {
		return err
	}

	s.processor = processor.New(s.queue, transport, s.monitor, processor.Options{
		BatchTimeout: s.cfg.Sync.BatchTimeout,
		MaxRetries:   s.cfg.Sync.MaxRetries,
		Logger:       s.logs.Logger("processor"),
		OnDropped:    s.obs.OnDropped,
		OnComplete:   s.obs.OnDrainComplete,
	})

	ropts := reconcile.Options{
		FetchAttempts: s.cfg.Sync.FetchAttempts,
		BackoffBase:   s.cfg.Sync.BackoffBase,
		MaxBackoff:    s.cfg.Sync.MaxBackoff,
		FetchTimeout:  s.cfg.Sync.BatchTimeout,
		Logger:        s.logs.Logger("reconcile"),
		OnComplete:    s.obs.OnReconcileComplete,
	}
	if s.cfg.Sync.PreservePending {
		ropts.Pending = s.queue
	}
	if s.cfg.Sync.PersistOutbox {
		// Other jt processes may have written rows since this one loaded.
		ropts.BeforeApply = s.Reload
	}
	s.reconciler = reconcile.New(s.store, s.processor, transport, ropts)

	s.scheduler = scheduler.New(s.processor, s.reconciler, s.monitor, &scheduler.Config{
		Interval:     s.cfg.Sync.Interval,
		DrainOnStart: true,
		Logger:       s.logs.Logger("scheduler"),
	})

	s.transport = transport
	s.remoteConn = conn
	s.userID = userID
	s.log.Printf("Logged in as %s (remote %s)", userID, s.remoteKind())
	return nil
}

func (s *Session) remoteKind() string {
	if s.transportOverride != nil {
		return "custom"
	}
	return s.cfg.Remote.Kind
}

// openTransport builds the configured transport. remote.kind none yields a
// nil transport: drains then fail with processor.ErrNoTransport and items
// stay queued.
func (s *Session) openTransport(ctx context.Context, userID string) (remote.Transport, *sql.DB, error) {
	if s.transportOverride != nil {
		return s.transportOverride, nil, nil
	}
	switch s.cfg.Remote.Kind {
	case config.RemoteHTTP:
		return remote.NewHTTPTransport(ctx, s.cfg.Remote.URL, s.cfg.Remote.Token), nil, nil
	case config.RemoteLibSQL:
		conn, err := remote.OpenLibSQL(s.cfg.Remote.URL, s.cfg.Remote.Token)
		if err != nil {
			return nil, nil, err
		}
		t := remote.NewSQLTransport(conn, userID)
		initCtx, cancel := context.WithTimeout(ctx, s.cfg.Sync.BatchTimeout)
		defer cancel()
		if err := t.InitSchema(initCtx); err != nil {
			// Offline at login is normal; the table is created on a later login.
			s.log.Printf("WARNING: remote schema not initialized: %v", err)
		}
		return t, conn, nil
	}
	return nil, nil, nil
}

// Start begins background sync: the reachability prober and the
// scheduler. ctx bounds the prober.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == "" {
		return ErrNotLoggedIn
	}
	if s.background {
		return scheduler.ErrAlreadyStarted
	}
	if s.transport != nil {
		if err := s.prober.Start(ctx); err != nil {
			return err
		}
	}
	if err := s.scheduler.Start(s.userID); err != nil {
		s.prober.Stop()
		return err
	}
	s.background = true
	return nil
}

// Logout stops background work and releases the transport. Local data and
// queued items are kept for the next login.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutLocked()
}

func (s *Session) logoutLocked() error {
	if s.userID == "" {
		return ErrNotLoggedIn
	}
	if s.background {
		_ = s.scheduler.Stop()
		s.prober.Stop()
		s.background = false
	}

	var err error
	if s.remoteConn != nil {
		err = s.remoteConn.Close()
	}
	s.log.Printf("Logged out %s", s.userID)
	s.userID = ""
	s.transport = nil
	s.remoteConn = nil
	s.processor = nil
	s.reconciler = nil
	s.scheduler = nil
	return err
}

// Close logs out if needed and closes the database.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.userID != "" {
		errs = append(errs, s.logoutLocked())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// CheckNetwork probes reachability once. Without a transport there is
// nothing to reach and the monitor is left as is.
func (s *Session) CheckNetwork(ctx context.Context) netmon.NetworkInfo {
	s.mu.Lock()
	hasTransport := s.transport != nil
	s.mu.Unlock()
	if !hasTransport {
		return s.monitor.Info()
	}
	return s.prober.Probe(ctx)
}

func (s *Session) pipeline() (*processor.Processor, *reconcile.Reconciler, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		return nil, nil, "", ErrNotLoggedIn
	}
	return s.processor, s.reconciler, s.userID, nil
}

// SyncNow probes the network and drains the outbox once.
func (s *Session) SyncNow(ctx context.Context) (processor.Result, error) {
	p, _, _, err := s.pipeline()
	if err != nil {
		return processor.Result{}, err
	}
	s.CheckNetwork(ctx)
	res, err := p.Drain(ctx)
	if err != nil {
		s.obs.OnSyncError(err)
	}
	return res, err
}

// Refresh probes the network and runs a full reconciliation.
func (s *Session) Refresh(ctx context.Context) (reconcile.Report, error) {
	_, r, userID, err := s.pipeline()
	if err != nil {
		return reconcile.Report{}, err
	}
	s.CheckNetwork(ctx)
	rep, err := r.Reconcile(ctx, userID)
	if err != nil {
		s.obs.OnSyncError(err)
	}
	return rep, err
}

// DroppedTotal returns how many outbox items were given up on since Login.
func (s *Session) DroppedTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processor == nil {
		return 0
	}
	return s.processor.DroppedTotal()
}

// Status summarizes the session for `jt sync status` and the dashboard.
type Status struct {
	UserID      string
	Remote      string
	Network     netmon.NetworkInfo
	Queued      int
	Jobs        int
	TimeEntries int
	PayPeriods  int
	ActiveEntry string
	LastSync    *time.Time
	Dropped     int64
	Background  bool
}

// Status returns the current session status.
func (s *Session) Status() Status {
	snap := s.store.Snapshot()
	st := Status{
		Network:     s.monitor.Info(),
		Queued:      s.queue.Len(),
		Jobs:        len(snap.Jobs),
		TimeEntries: len(snap.TimeEntries),
		PayPeriods:  len(snap.PayPeriods),
		ActiveEntry: snap.ActiveTimeEntryID,
		LastSync:    snap.LastSyncTimestamp,
		Dropped:     s.DroppedTotal(),
	}
	s.mu.Lock()
	st.UserID = s.userID
	st.Remote = s.remoteKind()
	st.Background = s.background
	s.mu.Unlock()
	return st
}

// Redact hides credentials embedded in a remote URL for display.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	q := u.Query()
	for k := range q {
		if strings.Contains(strings.ToLower(k), "token") {
			q.Set(k, config.Redacted)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
