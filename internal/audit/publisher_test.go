package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ err error }

func (s failingSink) Publish(ctx context.Context, rec Record) error { return s.err }
func (s failingSink) Close()                                        {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_StampsTimestamp(t *testing.T) {
	sink := NewRecordingSink()
	pub := NewPublisher(sink, testLogger())

	pub.Publish(context.Background(), Record{Action: ActionVehicleEntered, Plate: "29A-123.45"})

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, ActionVehicleEntered, recs[0].Action)
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestPublisher_SinkErrorDoesNotPropagate(t *testing.T) {
	pub := NewPublisher(failingSink{err: errors.New("broker down")}, testLogger())

	// Must not panic or block.
	pub.Publish(context.Background(), Record{Action: ActionPaymentMatched})
}
