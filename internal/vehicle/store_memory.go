package vehicle

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"xparking/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in a map. It backs development setups
// and tests; production uses the postgres store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

func (s *InMemoryStore) CreateEntry(_ context.Context, entry Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.Status == StatusInLot && sess.Plate == entry.Plate {
			return "", sentinel.ErrDuplicate
		}
	}

	id := uuid.NewString()
	s.sessions[id] = Session{
		ID:            id,
		Plate:         entry.Plate,
		Credential:    entry.Credential,
		EntryTime:     entry.EntryTime,
		Status:        StatusInLot,
		PaymentStatus: PaymentUnpaid,
		EntryImageRef: entry.ImageRef,
		OperatorEntry: entry.Operator,
	}
	return id, nil
}

func (s *InMemoryStore) FindActiveByPlate(_ context.Context, plate string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findActive(func(sess Session) bool { return sess.Plate == plate })
}

func (s *InMemoryStore) FindActiveByCredential(_ context.Context, credential string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findActive(func(sess Session) bool { return sess.Credential == credential })
}

// findActive returns the matching IN_LOT session with the latest entry
// time. Callers hold the lock.
func (s *InMemoryStore) findActive(match func(Session) bool) (*Session, error) {
	var found *Session
	for _, sess := range s.sessions {
		if sess.Status != StatusInLot || !match(sess) {
			continue
		}
		if found == nil || sess.EntryTime.After(found.EntryTime) {
			copied := sess
			found = &copied
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return found, nil
}

func (s *InMemoryStore) CloseExit(_ context.Context, id string, exit Exit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	exitTime := exit.ExitTime
	sess.ExitTime = &exitTime
	sess.Fee = exit.Fee
	sess.Status = StatusExited
	sess.PaymentStatus = PaymentPaid
	sess.ExitImageRef = exit.ImageRef
	sess.OperatorExit = exit.Operator
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) ActiveCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Status == StatusInLot {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) History(_ context.Context, filter HistoryFilter) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if filter.Plate != "" && !strings.Contains(sess.Plate, filter.Plate) {
			continue
		}
		if !filter.EntryDate.IsZero() {
			y1, m1, d1 := sess.EntryTime.Date()
			y2, m2, d2 := filter.EntryDate.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	return out, nil
}

func (s *InMemoryStore) Revenue(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, sess := range s.sessions {
		if sess.Status != StatusExited || sess.ExitTime == nil {
			continue
		}
		if sess.ExitTime.Before(from) || sess.ExitTime.After(to) {
			continue
		}
		total += sess.Fee
	}
	return total, nil
}
