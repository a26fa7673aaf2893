package sync

import (
	"strconv"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys in sync_state.
const (
	keyLastDrainAt     = "last_drain_at"
	keyLastDrainSynced = "last_drain_synced"
	keyLastDrainFailed = "last_drain_failed"
)

// DrainCheckpoint is the persisted outcome of the most recent drain.
type DrainCheckpoint struct {
	At     time.Time
	Synced int
	Failed int
}

// Reconciler manages drain checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetCheckpoint(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value. ok is false if unset.
func (r *Reconciler) GetCheckpoint(key string) (string, bool, error) {
	return r.db.Checkpoint(key)
}

// RecordDrain persists the tally of a drain finished at at.
func (r *Reconciler) RecordDrain(res Result, at time.Time) error {
	for _, kv := range [][2]string{
		{keyLastDrainAt, strconv.FormatInt(at.UnixMilli(), 10)},
		{keyLastDrainSynced, strconv.Itoa(res.Synced)},
		{keyLastDrainFailed, strconv.Itoa(res.Failed)},
	} {
		if err := r.UpdateCheckpoint(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// LastDrain returns the most recent drain checkpoint. ok is false when no
// drain has been recorded.
func (r *Reconciler) LastDrain() (cp DrainCheckpoint, ok bool, err error) {
	at, ok, err := r.GetCheckpoint(keyLastDrainAt)
	if err != nil || !ok {
		return cp, false, err
	}
	ms, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return cp, false, err
	}
	cp.At = time.UnixMilli(ms)
	if cp.Synced, err = r.intCheckpoint(keyLastDrainSynced); err != nil {
		return cp, false, err
	}
	if cp.Failed, err = r.intCheckpoint(keyLastDrainFailed); err != nil {
		return cp, false, err
	}
	return cp, true, nil
}

func (r *Reconciler) intCheckpoint(key string) (int, error) {
	v, ok, err := r.GetCheckpoint(key)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(v)
}
