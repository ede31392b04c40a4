package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"go.uber.org/zap"
)

const (
	defaultAutosaveDebounce = 2 * time.Second
	defaultFlushTimeout     = 10 * time.Second
)

// DocumentStore is the durable store consumed by the collaboration engine.
// All mutation goes through the conditional compare-and-save; the store owns
// the version counter.
type DocumentStore interface {
	Get(ctx context.Context, portfolioID portfolio.PortfolioID) (portfolio.Snapshot, error)
	CompareAndSave(ctx context.Context, portfolioID portfolio.PortfolioID, ownerID portfolio.OwnerID, changes portfolio.ChangeSet, baseline portfolio.BaselineVersion) (portfolio.Snapshot, error)
}

type pendingKey struct {
	connID     string
	documentID string
}

type pendingAutosave struct {
	changes  portfolio.ChangeSet
	baseline portfolio.BaselineVersion
	timer    *time.Timer
}

// CoordinatorConfig bundles the dependencies of the autosave coordinator.
type CoordinatorConfig struct {
	Store        DocumentStore
	Relay        *Relay
	Debounce     time.Duration
	FlushTimeout time.Duration
	Logger       *zap.Logger
}

// Coordinator coalesces rapid edits into a single optimistic write per
// debounce window. Buffers are scoped per (connection, document): two
// connections editing the same document hold independent timers, so every
// flush re-validates its baseline against the store rather than trusting
// state captured at buffer time.
type Coordinator struct {
	store        DocumentStore
	relay        *Relay
	debounce     time.Duration
	flushTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	pending map[pendingKey]*pendingAutosave
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultAutosaveDebounce
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:        cfg.Store,
		relay:        cfg.Relay,
		debounce:     debounce,
		flushTimeout: flushTimeout,
		logger:       logger,
		pending:      make(map[pendingKey]*pendingAutosave),
	}
}

// Buffer validates and stages a change set for the (connection, document)
// pair. A buffer arriving before the pending timer fires supersedes it: the
// change sets merge field-wise with later keys winning, the baseline is
// replaced by the latest one, and the debounce window restarts. At most one
// timer is outstanding per pair. Validation failures are reported to the
// originator only, and nothing is buffered.
func (c *Coordinator) Buffer(conn *Conn, rawDocumentID string, changes portfolio.ChangeSet, baselineVersion int64) {
	documentID, err := portfolio.NewPortfolioID(rawDocumentID)
	if err != nil {
		conn.Send(EventAutosaveError, ErrorPayload{
			Type:    errorTypeValidation,
			Message: "documentId is required",
			Errors:  []portfolio.FieldIssue{{Field: "documentId", Message: err.Error()}},
		})
		return
	}
	baseline, err := portfolio.NewBaselineVersion(baselineVersion)
	if err != nil {
		conn.Send(EventAutosaveError, ErrorPayload{
			Type:    errorTypeValidation,
			Message: "version must be a positive integer",
			Errors:  []portfolio.FieldIssue{{Field: "version", Message: err.Error()}},
		})
		return
	}
	if err := changes.Validate(); err != nil {
		var validationErr *portfolio.ValidationError
		if errors.As(err, &validationErr) {
			conn.Send(EventAutosaveError, ErrorPayload{
				Type:    errorTypeValidation,
				Message: "invalid change set",
				Errors:  validationErr.Issues,
			})
			return
		}
		conn.Send(EventAutosaveError, ErrorPayload{Type: errorTypeValidation, Message: err.Error()})
		return
	}

	key := pendingKey{connID: conn.ID, documentID: documentID.String()}

	c.mu.Lock()
	entry := &pendingAutosave{changes: changes, baseline: baseline}
	if existing, ok := c.pending[key]; ok {
		existing.timer.Stop()
		entry.changes = existing.changes.Merge(changes)
	}
	entry.timer = time.AfterFunc(c.debounce, func() {
		c.flush(conn, documentID, key, entry)
	})
	c.pending[key] = entry
	c.mu.Unlock()
}

// PendingCount reports the number of outstanding buffers, for observability.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// CancelAll discards every pending buffer owned by a connection. Unflushed
// changes are dropped; the data-loss window on disconnect is bounded by the
// debounce duration and left to the client to replay.
func (c *Coordinator) CancelAll(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.pending {
		if key.connID != connID {
			continue
		}
		entry.timer.Stop()
		delete(c.pending, key)
	}
}

func (c *Coordinator) flush(conn *Conn, documentID portfolio.PortfolioID, key pendingKey, scheduled *pendingAutosave) {
	c.mu.Lock()
	entry, ok := c.pending[key]
	if !ok || entry != scheduled {
		// Superseded by a newer buffer or canceled on disconnect.
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()

	ownerID, err := portfolio.NewOwnerID(conn.Identity.UserID)
	if err != nil {
		conn.Send(EventAutosaveError, ErrorPayload{Type: errorTypePersistence, Message: "connection identity is invalid"})
		return
	}

	snapshot, err := c.store.CompareAndSave(ctx, documentID, ownerID, entry.changes, entry.baseline)
	if err != nil {
		c.reportFlushFailure(conn, documentID, err)
		return
	}

	conn.Send(EventAutosaveSuccess, AutosaveSuccessPayload{
		DocumentID: documentID.String(),
		Version:    snapshot.Version,
	})
	c.relay.Broadcast(documentID.String(), conn, EventDocumentAutosaved, map[string]any{
		"documentId": documentID.String(),
		"changes":    entry.changes,
		"version":    snapshot.Version,
	})
	c.logger.Debug("autosave committed",
		zap.String("document_id", documentID.String()),
		zap.String("conn_id", conn.ID),
		zap.Int64("version", snapshot.Version))
}

// Flush failures go to the originating connection only; peers never observe
// another connection's rejected write. The buffered change is dropped in
// every case: conflicts require a client re-baseline, and store failures are
// not retried to avoid retry storms.
func (c *Coordinator) reportFlushFailure(conn *Conn, documentID portfolio.PortfolioID, err error) {
	var conflict *portfolio.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		conn.Send(EventVersionConflict, VersionConflictPayload{
			CurrentVersion: conflict.CurrentVersion,
			Document:       conflict.Current,
		})
	case errors.Is(err, portfolio.ErrAccessDenied):
		conn.Send(EventAutosaveError, ErrorPayload{
			Type:    errorTypeAccessDenied,
			Message: "you do not own this document",
		})
	case errors.Is(err, portfolio.ErrNotFound):
		conn.Send(EventAutosaveError, ErrorPayload{
			Type:    errorTypeNotFound,
			Message: "document no longer exists",
		})
	default:
		c.logger.Error("autosave flush failed",
			zap.String("document_id", documentID.String()),
			zap.String("conn_id", conn.ID),
			zap.Error(err))
		conn.Send(EventAutosaveError, ErrorPayload{
			Type:    errorTypePersistence,
			Message: "failed to save document",
		})
	}
}
