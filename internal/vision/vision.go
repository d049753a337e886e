// Package vision holds the HTTP clients for the external recognition
// service and the lane snapshot cameras. Recognition itself happens
// out of process; this package only moves frames and results.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"xparking/internal/bus"
	"xparking/internal/orchestrator"
)

// HTTPRecognizer posts a frame to the recognition service and decodes
// the best candidate.
type HTTPRecognizer struct {
	url    string
	client *http.Client
}

func NewHTTPRecognizer(url string) *HTTPRecognizer {
	return &HTTPRecognizer{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type recognizeResponse struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, frame []byte) (*orchestrator.Recognition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call recognizer: %w", err)
	}
	defer resp.Body.Close()

	// No candidate found in the frame.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer returned status %d", resp.StatusCode)
	}

	var body recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode recognizer response: %w", err)
	}
	if body.Plate == "" {
		return nil, nil
	}
	return &orchestrator.Recognition{Text: body.Plate, Confidence: body.Confidence}, nil
}

// SnapshotFrames pulls the latest still from each lane camera's
// snapshot endpoint on demand.
type SnapshotFrames struct {
	urls   map[bus.Lane]string
	client *http.Client
	logger *slog.Logger
}

func NewSnapshotFrames(inURL, outURL string, logger *slog.Logger) *SnapshotFrames {
	return &SnapshotFrames{
		urls: map[bus.Lane]string{
			bus.LaneIn:  inURL,
			bus.LaneOut: outURL,
		},
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

func (s *SnapshotFrames) LatestFrame(lane bus.Lane) ([]byte, bool) {
	url, ok := s.urls[lane]
	if !ok || url == "" {
		return nil, false
	}

	resp, err := s.client.Get(url)
	if err != nil {
		s.logger.Warn("snapshot fetch failed", "lane", lane, "error", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("snapshot fetch failed", "lane", lane, "status", resp.StatusCode)
		return nil, false
	}

	frame, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil || len(frame) == 0 {
		s.logger.Warn("snapshot read failed", "lane", lane, "error", err)
		return nil, false
	}
	return frame, true
}

// DirImageStore archives frames as files under one directory.
type DirImageStore struct {
	dir string
}

func NewDirImageStore(dir string) (*DirImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &DirImageStore{dir: dir}, nil
}

func (s *DirImageStore) Save(ctx context.Context, ref string, frame []byte) error {
	path := filepath.Join(s.dir, filepath.Base(ref))
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return fmt.Errorf("write image %s: %w", ref, err)
	}
	return nil
}
