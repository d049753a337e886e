package vehicle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"xparking/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) entry(plate, credential string, at time.Time) string {
	id, err := s.store.CreateEntry(s.ctx, Entry{
		Plate:      plate,
		Credential: credential,
		EntryTime:  at,
		Operator:   "operator-a",
	})
	s.Require().NoError(err)
	return id
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	now := time.Now()
	id := s.entry("29A12345", "TAG01", now)

	byPlate, err := s.store.FindActiveByPlate(s.ctx, "29A12345")
	s.Require().NoError(err)
	s.Equal(id, byPlate.ID)
	s.Equal(StatusInLot, byPlate.Status)
	s.Equal(PaymentUnpaid, byPlate.PaymentStatus)

	byCredential, err := s.store.FindActiveByCredential(s.ctx, "TAG01")
	s.Require().NoError(err)
	s.Equal(id, byCredential.ID)
}

func (s *InMemoryStoreSuite) TestDuplicateEntryRejected() {
	t0 := time.Now()
	s.entry("29A12345", "TAG01", t0)

	// Same plate one second later must not create a second session.
	_, err := s.store.CreateEntry(s.ctx, Entry{
		Plate:      "29A12345",
		Credential: "TAG02",
		EntryTime:  t0.Add(time.Second),
	})
	s.Require().ErrorIs(err, sentinel.ErrDuplicate)

	count, err := s.store.ActiveCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *InMemoryStoreSuite) TestFindMissing() {
	_, err := s.store.FindActiveByPlate(s.ctx, "51B00001")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindActiveByCredential(s.ctx, "TAG99")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestCloseExit() {
	entryTime := time.Now().Add(-2 * time.Hour)
	id := s.entry("29A12345", "TAG01", entryTime)

	exitTime := time.Now()
	err := s.store.CloseExit(s.ctx, id, Exit{
		ExitTime: exitTime,
		Fee:      20000,
		Operator: "operator-b",
	})
	s.Require().NoError(err)

	// Closed session is no longer active.
	_, err = s.store.FindActiveByPlate(s.ctx, "29A12345")
	s.ErrorIs(err, sentinel.ErrNotFound)

	count, err := s.store.ActiveCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	// And the same plate may enter again.
	s.entry("29A12345", "TAG01", exitTime.Add(time.Minute))
}

func (s *InMemoryStoreSuite) TestCloseExitMissing() {
	err := s.store.CloseExit(s.ctx, "no-such-id", Exit{ExitTime: time.Now()})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestHistoryFilterAndOrder() {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	s.entry("29A12345", "TAG01", base)
	s.entry("51B67890", "TAG02", base.Add(time.Hour))

	all, err := s.store.History(s.ctx, HistoryFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("51B67890", all[0].Plate, "newest entry first")

	filtered, err := s.store.History(s.ctx, HistoryFilter{Plate: "29A"})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Equal("29A12345", filtered[0].Plate)

	byDate, err := s.store.History(s.ctx, HistoryFilter{EntryDate: base})
	s.Require().NoError(err)
	s.Len(byDate, 2)
}

func (s *InMemoryStoreSuite) TestRevenue() {
	entryTime := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	exitTime := entryTime.Add(3 * time.Hour)

	id1 := s.entry("29A12345", "TAG01", entryTime)
	s.Require().NoError(s.store.CloseExit(s.ctx, id1, Exit{ExitTime: exitTime, Fee: 30000}))

	id2 := s.entry("51B67890", "TAG02", entryTime)
	s.Require().NoError(s.store.CloseExit(s.ctx, id2, Exit{ExitTime: exitTime, Fee: 10000}))

	// Still in lot, must not count.
	s.entry("30C11111", "TAG03", entryTime)

	total, err := s.store.Revenue(s.ctx, entryTime, exitTime.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(40000), total)

	outside, err := s.store.Revenue(s.ctx, exitTime.Add(2*time.Hour), exitTime.Add(3*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(0), outside)
}
