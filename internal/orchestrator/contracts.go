package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"xparking/internal/bus"
)

// Recognition is the best plate candidate found in a frame.
type Recognition struct {
	Text       string
	Confidence float64
	Crop       []byte
}

// Recognizer turns a camera frame into a plate candidate. A nil result
// with a nil error means no plate was found; errors are reserved for
// the recognizer itself being unavailable.
type Recognizer interface {
	Recognize(ctx context.Context, frame []byte) (*Recognition, error)
}

// FrameSource hands out the most recent frame captured at a lane.
type FrameSource interface {
	LatestFrame(lane bus.Lane) ([]byte, bool)
}

// ImageStore archives the frame that finalized an operation under its
// reference name. Implementations may be nil-safe no-ops.
type ImageStore interface {
	Save(ctx context.Context, ref string, frame []byte) error
}

// entryImageRef and exitImageRef name archived frames so the entry and
// exit shots of one stay sort together, e.g.
// "VAO_29A12345_20260310100000.jpg".
func entryImageRef(plate string, t time.Time) string {
	return imageRef("VAO", plate, t)
}

func exitImageRef(plate string, t time.Time) string {
	return imageRef("RA", plate, t)
}

func imageRef(prefix, plate string, t time.Time) string {
	clean := strings.ReplaceAll(plate, ".", "")
	return fmt.Sprintf("%s_%s_%s.jpg", prefix, clean, t.Format("20060102150405"))
}
