package plan

import (
	"log"
	"sync"

	"github.com/planloom/planloom/internal/state"
	"github.com/planloom/planloom/pkg/models"
)

// activityLog is the append-only audit log for one plan. Entries are
// kept in memory for snapshots and mirrored to the store when one is
// configured. Persistence failures are logged, never propagated: the
// audit trail must not block control flow.
type activityLog struct {
	mu      sync.Mutex
	planID  string
	entries []models.Activity
	store   state.ActivityStore
}

func newActivityLog(planID string, store state.ActivityStore) *activityLog {
	return &activityLog{planID: planID, store: store}
}

// Append records one entry.
func (l *activityLog) Append(a models.Activity) {
	l.mu.Lock()
	l.entries = append(l.entries, a)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AppendActivity(l.planID, a); err != nil {
			log.Printf("[plan] warning: persist activity: %v", err)
		}
	}
}

// All returns a copy of the log in insertion order.
func (l *activityLog) All() []models.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Activity(nil), l.entries...)
}

// seed preloads entries restored from the store.
func (l *activityLog) seed(entries []models.Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]models.Activity(nil), entries...)
}
