package abtest

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sveturs/abkit/internal/storage"
)

// assignmentKeyVersion is bumped when the persisted envelope layout
// changes; CleanupLegacy sweeps older versions on load.
const assignmentKeyVersion = "1"

// assignmentEnvelope is the persisted form of the assignment map. SavedAt
// lets the expiry be enforced on load, the way a cookie expiry would.
type assignmentEnvelope struct {
	SavedAt     time.Time               `json:"savedAt"`
	Assignments map[string][]Assignment `json:"assignments"`
}

// AssignmentStore owns the persisted per-user assignment map. Assignments
// are sticky: created at most once per (user, experiment) and never mutated
// afterwards. Persistence failures are logged, never propagated — the
// in-memory map stays authoritative for the rest of the session.
type AssignmentStore struct {
	mu     sync.Mutex
	byUser map[string][]Assignment

	store  storage.Store
	key    string
	expiry time.Duration
	log    *zap.Logger

	// onAssign is invoked outside metric paths whenever a fresh assignment
	// is created, feeding the experiment_assigned analytics event.
	onAssign func(a Assignment, userID string)
}

func NewAssignmentStore(store storage.Store, purpose string, expiry time.Duration, log *zap.Logger) *AssignmentStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AssignmentStore{
		byUser: make(map[string][]Assignment),
		store:  store,
		key:    storage.Key(purpose, assignmentKeyVersion, ""),
		expiry: expiry,
		log:    log,
	}
	s.load(purpose)
	return s
}

// OnAssign registers the new-assignment hook.
func (s *AssignmentStore) OnAssign(fn func(a Assignment, userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAssign = fn
}

func (s *AssignmentStore) load(purpose string) {
	if s.store == nil {
		return
	}

	if n, err := storage.CleanupLegacy(s.store, purpose, assignmentKeyVersion); err == nil && n > 0 {
		s.log.Info("removed legacy assignment keys", zap.Int("count", n))
	}

	raw, err := s.store.Get(s.key)
	if err != nil {
		return
	}

	var env assignmentEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.log.Warn("failed to parse persisted assignments", zap.Error(err))
		return
	}

	if !env.SavedAt.IsZero() && time.Since(env.SavedAt) > s.expiry {
		s.log.Info("persisted assignments expired, starting fresh",
			zap.Time("saved_at", env.SavedAt))
		return
	}

	if env.Assignments != nil {
		s.byUser = env.Assignments
	}
}

// Get returns the user's assignments, empty if none.
func (s *AssignmentStore) Get(userID string) []Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Assignment, len(s.byUser[userID]))
	copy(out, s.byUser[userID])
	return out
}

// Find returns the user's assignment for an experiment, or nil.
func (s *AssignmentStore) Find(userID, experimentID string) *Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(userID, experimentID)
}

func (s *AssignmentStore) findLocked(userID, experimentID string) *Assignment {
	for i := range s.byUser[userID] {
		if s.byUser[userID][i].ExperimentID == experimentID {
			a := s.byUser[userID][i]
			return &a
		}
	}
	return nil
}

// GetOrCreate returns the existing assignment for (user, experiment) or
// creates one via the weighted deterministic draw. Idempotent: once a
// variant is assigned it is returned unchanged for the experiment's
// lifetime, even if weights change later.
func (s *AssignmentStore) GetOrCreate(exp *Experiment, userID string) *Assignment {
	s.mu.Lock()

	if existing := s.findLocked(userID, exp.ID); existing != nil {
		s.mu.Unlock()
		return existing
	}

	variant := SelectVariant(exp, userID)
	if variant == nil {
		s.mu.Unlock()
		return nil
	}

	a := Assignment{
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		AssignedAt:   time.Now().UTC(),
		Sticky:       true,
	}
	s.byUser[userID] = append(s.byUser[userID], a)
	s.persistLocked()
	hook := s.onAssign
	s.mu.Unlock()

	if hook != nil {
		hook(a, userID)
	}
	return &a
}

// Reset clears all assignments for the user and re-persists.
func (s *AssignmentStore) Reset(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byUser, userID)
	s.persistLocked()
}

// persistLocked writes the entire map. Called with s.mu held.
func (s *AssignmentStore) persistLocked() {
	if s.store == nil {
		return
	}

	env := assignmentEnvelope{
		SavedAt:     time.Now().UTC(),
		Assignments: s.byUser,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Warn("failed to marshal assignments", zap.Error(err))
		return
	}
	if err := s.store.Set(s.key, string(raw)); err != nil {
		s.log.Warn("failed to persist assignments, continuing in memory", zap.Error(err))
	}
}
