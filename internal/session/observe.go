package session

import (
	"sync"

	"github.com/jobtrack/jobtrack/internal/offline/netmon"
	"github.com/jobtrack/jobtrack/internal/offline/processor"
	"github.com/jobtrack/jobtrack/internal/offline/reconcile"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Observer receives engine events. *dashboard.Handler implements it.
// Methods are called from engine goroutines and must not block.
type Observer interface {
	OnQueueChanged(length int)
	OnDrainComplete(res processor.Result)
	OnDropped(items []schema.SyncQueueItem)
	OnSyncError(err error)
	OnReconcileComplete(rep reconcile.Report)
	OnNetworkChange(prev, next netmon.NetworkInfo)
}

// observers fans events out to every registered Observer. Components are
// wired to it at construction, so observers can be added later.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

func (o *observers) each(fn func(Observer)) {
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()
	for _, obs := range list {
		fn(obs)
	}
}

func (o *observers) OnQueueChanged(length int) {
	o.each(func(obs Observer) { obs.OnQueueChanged(length) })
}

func (o *observers) OnDrainComplete(res processor.Result) {
	o.each(func(obs Observer) { obs.OnDrainComplete(res) })
}

func (o *observers) OnDropped(items []schema.SyncQueueItem) {
	o.each(func(obs Observer) { obs.OnDropped(items) })
}

func (o *observers) OnSyncError(err error) {
	o.each(func(obs Observer) { obs.OnSyncError(err) })
}

func (o *observers) OnReconcileComplete(rep reconcile.Report) {
	o.each(func(obs Observer) { obs.OnReconcileComplete(rep) })
}

func (o *observers) OnNetworkChange(prev, next netmon.NetworkInfo) {
	o.each(func(obs Observer) { obs.OnNetworkChange(prev, next) })
}
