package transcript

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/sambung/pkg/errorsx"
	"github.com/harunnryd/sambung/pkg/redact"
)

// ArtifactContentType is the MIME type of the finalized artifact.
const ArtifactContentType = "text/csv"

var csvHeader = []string{"Timestamp", "Speaker", "Message Type", "Content", "Size (bytes)", "Additional Info"}

// Uploader is the write-once storage sink for finalized artifacts.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// Recorder accumulates events for one call. Append is O(1) and never
// touches I/O; Finalize serializes and uploads exactly once.
type Recorder struct {
	uploader  Uploader
	logger    *slog.Logger
	keyPrefix string
	now       func() time.Time

	mu        sync.Mutex
	events    []Event
	finalized bool
}

// NewRecorder creates a recorder backed by the given sink. A nil uploader
// downgrades Finalize to serialize-and-log, which keeps calls usable in
// environments without a configured bucket.
func NewRecorder(uploader Uploader, keyPrefix string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		uploader:  uploader,
		logger:    logger,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Append records one event, stamping it with the current time. Events
// appended after Finalize are dropped; the artifact is already sealed.
func (r *Recorder) Append(speaker Speaker, kind Kind, content string, sizeBytes int, additionalInfo string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.events = append(r.events, Event{
		Timestamp:      r.now(),
		Speaker:        speaker,
		Kind:           kind,
		Content:        redact.Text(content),
		SizeBytes:      sizeBytes,
		AdditionalInfo: redact.Text(additionalInfo),
	})
}

// Events returns a copy of the recorded sequence.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Finalize seals the transcript, serializes it and uploads it under a key
// derived from the call SID and the finalize timestamp. Invoking it again
// is a no-op. Upload failure is reported, not retried: the call has already
// ended and durability here is best effort.
func (r *Recorder) Finalize(ctx context.Context, callSID string) (string, error) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return "", nil
	}
	r.finalized = true
	events := make([]Event, len(r.events))
	copy(events, r.events)
	r.mu.Unlock()

	if callSID == "" {
		callSID = "unknown-call"
	}
	key := r.keyPrefix + callSID + "-" + r.now().UTC().Format("20060102T150405Z") + ".csv"
	body := serializeCSV(events)

	if r.uploader == nil {
		r.logger.Warn("transcript sink not configured, artifact discarded",
			slog.String("call_sid", callSID),
			slog.Int("events", len(events)))
		return key, nil
	}
	if err := r.uploader.Upload(ctx, key, ArtifactContentType, body); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonTranscriptUpload)
		r.logger.Error("transcript upload failed",
			slog.String("call_sid", callSID),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return key, err
	}
	r.logger.Info("transcript uploaded",
		slog.String("call_sid", callSID),
		slog.String("key", key),
		slog.Int("events", len(events)),
		slog.Int("bytes", len(body)))
	return key, nil
}

func serializeCSV(events []Event) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader)
	for _, ev := range events {
		_ = w.Write([]string{
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			string(ev.Speaker),
			string(ev.Kind),
			ev.Content,
			strconv.Itoa(ev.SizeBytes),
			ev.AdditionalInfo,
		})
	}
	w.Flush()
	return buf.Bytes()
}
