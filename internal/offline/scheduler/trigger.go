package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TriggerKind is a request sent to a running daemon through a trigger file.
type TriggerKind string

const (
	TriggerSync       TriggerKind = "sync"
	TriggerRefresh    TriggerKind = "refresh"
	TriggerForeground TriggerKind = "foreground"
	TriggerBackground TriggerKind = "background"
)

// triggerExt is the suffix of trigger files: <kind>.trigger.
const triggerExt = ".trigger"

// ParseTriggerKind validates a trigger name.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch k := TriggerKind(s); k {
	case TriggerSync, TriggerRefresh, TriggerForeground, TriggerBackground:
		return k, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

// Touch writes the trigger file for kind into dir. Other processes use it to
// signal a daemon watching dir.
func Touch(dir string, kind TriggerKind) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}
	path := filepath.Join(dir, string(kind)+triggerExt)
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano) + "\n")
	if err := os.WriteFile(path, stamp, 0644); err != nil {
		return fmt.Errorf("failed to write trigger %s: %w", kind, err)
	}
	return nil
}

// TriggerWatcher watches a directory for trigger files.
// It uses fsnotify for cross-platform file system event monitoring.
type TriggerWatcher struct {
	watcher *fsnotify.Watcher
	events  chan TriggerKind
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewTriggerWatcher creates a watcher. It must be started with Start()
// before it emits triggers.
func NewTriggerWatcher() (*TriggerWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &TriggerWatcher{
		watcher: watcher,
		events:  make(chan TriggerKind, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir, creating it if needed.
func (tw *TriggerWatcher) Start(dir string) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}
	if err := tw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch trigger directory %s: %w", dir, err)
	}

	tw.dir = dir
	tw.running = true
	tw.wg.Add(1)
	go tw.processEvents()

	return nil
}

// Stop stops watching and closes the channels. It is safe to call on a
// watcher that was never started.
func (tw *TriggerWatcher) Stop() error {
	tw.mu.Lock()
	wasRunning := tw.running
	tw.running = false
	tw.mu.Unlock()

	if !wasRunning {
		return tw.watcher.Close()
	}

	close(tw.done)
	if err := tw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	tw.wg.Wait()

	close(tw.events)
	close(tw.errors)
	return nil
}

// Events returns the channel of received triggers. It is closed by Stop.
func (tw *TriggerWatcher) Events() <-chan TriggerKind {
	return tw.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (tw *TriggerWatcher) Errors() <-chan error {
	return tw.errors
}

// IsRunning returns true if the watcher is currently running.
func (tw *TriggerWatcher) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}

func (tw *TriggerWatcher) processEvents() {
	defer tw.wg.Done()

	for {
		select {
		case <-tw.done:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			kind, ok := convertEvent(event)
			if !ok {
				continue
			}
			select {
			case tw.events <- kind:
			case <-tw.done:
				return
			}

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case tw.errors <- err:
			case <-tw.done:
				return
			}
		}
	}
}

// convertEvent maps a create or write of <kind>.trigger to its kind.
func convertEvent(event fsnotify.Event) (TriggerKind, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, triggerExt) {
		return "", false
	}
	kind, err := ParseTriggerKind(strings.TrimSuffix(name, triggerExt))
	if err != nil {
		return "", false
	}
	return kind, true
}

// Serve applies triggers from tw to s until ctx is done or the watcher
// stops. before, if set, runs ahead of each trigger. Refresh runs in the
// calling goroutine.
func (s *Scheduler) Serve(ctx context.Context, tw *TriggerWatcher, before func(TriggerKind)) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-tw.Errors():
			if !ok {
				return
			}
			s.config.Logger.Printf("Trigger watcher error: %v", err)
		case kind, ok := <-tw.Events():
			if !ok {
				return
			}
			if before != nil {
				before(kind)
			}
			s.HandleTrigger(ctx, kind)
		}
	}
}

// HandleTrigger applies one trigger.
func (s *Scheduler) HandleTrigger(ctx context.Context, kind TriggerKind) {
	s.config.Logger.Printf("Trigger received: %s", kind)
	switch kind {
	case TriggerSync:
		s.TriggerDrain()
	case TriggerForeground:
		s.AppStateChanged(StateActive)
	case TriggerBackground:
		s.AppStateChanged(StateBackground)
	case TriggerRefresh:
		if _, err := s.Refresh(ctx); err != nil {
			s.config.Logger.Printf("Refresh failed: %v", err)
		}
	}
}
