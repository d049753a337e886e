package vision

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xparking/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPRecognizer_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "fake-jpeg", string(body))
		io.WriteString(w, `{"plate":"29A-123.45","confidence":0.93}`)
	}))
	defer srv.Close()

	rec, err := NewHTTPRecognizer(srv.URL).Recognize(context.Background(), []byte("fake-jpeg"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "29A-123.45", rec.Text)
	assert.InDelta(t, 0.93, rec.Confidence, 0.001)
}

func TestHTTPRecognizer_NoCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec, err := NewHTTPRecognizer(srv.URL).Recognize(context.Background(), []byte("frame"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSnapshotFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "jpeg-bytes")
	}))
	defer srv.Close()

	frames := NewSnapshotFrames(srv.URL, "", testLogger())

	frame, ok := frames.LatestFrame(bus.LaneIn)
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(frame))

	_, ok = frames.LatestFrame(bus.LaneOut)
	assert.False(t, ok)
}

func TestDirImageStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDirImageStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "VAO_29A12345_20260310100000.jpg", []byte("img")))

	data, err := os.ReadFile(filepath.Join(dir, "VAO_29A12345_20260310100000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
}
