package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/jobtrack/jobtrack/internal/offline/netmon"
	"github.com/jobtrack/jobtrack/internal/offline/processor"
	"github.com/jobtrack/jobtrack/internal/offline/reconcile"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// Broadcaster receives formatted messages. *Server implements it.
type Broadcaster interface {
	Broadcast(msg Message)
}

// QueueChangedData is the payload of queue_changed.
type QueueChangedData struct {
	Length int `json:"length"`
}

// DrainCompleteData is the payload of drain_complete.
type DrainCompleteData struct {
	Batches   int `json:"batches"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// DroppedItem describes one outbox item given up on.
type DroppedItem struct {
	ID         string            `json:"id"`
	EntityType schema.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Operation  schema.Operation  `json:"operation"`
	RetryCount int               `json:"retry_count"`
}

// SyncFailedData is the payload of sync_failed.
type SyncFailedData struct {
	Error   string        `json:"error,omitempty"`
	Dropped []DroppedItem `json:"dropped,omitempty"`
}

// ReconcileCompleteData is the payload of reconcile_complete.
type ReconcileCompleteData struct {
	Applied  []schema.EntityType       `json:"applied"`
	Counts   map[schema.EntityType]int `json:"counts,omitempty"`
	Failed   []string                  `json:"failed,omitempty"`
	SyncedAt *time.Time                `json:"synced_at,omitempty"`
}

// NetworkStatusData is the payload of network_status.
type NetworkStatusData struct {
	Connected bool   `json:"connected"`
	Type      string `json:"type"`
}

// Handler turns engine hooks into dashboard messages. Its methods match the
// hook signatures of outbox, processor, reconcile and netmon.
type Handler struct {
	out    Broadcaster
	logger *log.Logger
}

// NewHandler creates a handler broadcasting to out.
func NewHandler(out Broadcaster, logger *log.Logger) *Handler {
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	return &Handler{out: out, logger: logger}
}

// OnQueueChanged handles outbox length changes.
func (h *Handler) OnQueueChanged(length int) {
	h.send(MessageTypeQueueChanged, QueueChangedData{Length: length})
}

// OnDrainComplete handles a finished drain.
func (h *Handler) OnDrainComplete(res processor.Result) {
	h.send(MessageTypeDrainComplete, DrainCompleteData{
		Batches:   res.Batches,
		Delivered: res.Delivered,
		Failed:    res.Failed,
		Dropped:   len(res.Dropped),
	})
}

// OnDropped handles items removed after exhausting their retries.
func (h *Handler) OnDropped(items []schema.SyncQueueItem) {
	if len(items) == 0 {
		return
	}
	data := SyncFailedData{Dropped: make([]DroppedItem, 0, len(items))}
	for _, it := range items {
		data.Dropped = append(data.Dropped, DroppedItem{
			ID:         it.ID,
			EntityType: it.EntityType,
			EntityID:   it.EntityID,
			Operation:  it.Operation,
			RetryCount: it.RetryCount,
		})
	}
	h.logger.Printf("Dropped %d outbox items", len(items))
	h.send(MessageTypeSyncFailed, data)
}

// OnSyncError handles a drain or reconcile error.
func (h *Handler) OnSyncError(err error) {
	if err == nil {
		return
	}
	h.send(MessageTypeSyncFailed, SyncFailedData{Error: err.Error()})
}

// OnReconcileComplete handles a finished reconciliation.
func (h *Handler) OnReconcileComplete(rep reconcile.Report) {
	data := ReconcileCompleteData{
		Applied: rep.Applied,
		Counts:  rep.Counts,
	}
	if data.Applied == nil {
		data.Applied = []schema.EntityType{}
	}
	for _, f := range rep.Failed {
		data.Failed = append(data.Failed, string(f.EntityType))
	}
	if !rep.SyncedAt.IsZero() {
		t := rep.SyncedAt
		data.SyncedAt = &t
	}
	h.send(MessageTypeReconcileComplete, data)
	if rep.DrainErr != nil {
		h.OnSyncError(rep.DrainErr)
	}
}

// OnNetworkChange handles connectivity transitions.
func (h *Handler) OnNetworkChange(prev, next netmon.NetworkInfo) {
	h.send(MessageTypeNetworkStatus, NetworkStatusData{
		Connected: next.IsConnected,
		Type:      next.Type,
	})
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s: %v", typ, err)
		return
	}
	h.out.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
