// Package ingester implements the frame ingester: multipart uploads of
// (frame + detections) to the session store's /ingest endpoint, with
// bounded concurrency and retry-with-backoff (spec.md §4.8).
package ingester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/httputil"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/sessionmgr"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/workerpool"
)

var log = logging.L("ingester")

// Config is the one-time configuration for the ingester.
type Config struct {
	StoreBaseURL string
	MaxInflight  int // matches the feeder's in-flight window (spec.md §4.8)
	MaxBodyBytes int // 2 MB default per spec.md §4.8
	HTTPClient   *http.Client
	Retry        httputil.RetryConfig
}

func (c Config) maxBodyBytes() int {
	if c.MaxBodyBytes <= 0 {
		return 2 * 1024 * 1024
	}
	return c.MaxBodyBytes
}

// metaPayload is the JSON encoded into the "meta" multipart field.
type metaPayload struct {
	SessionID  string            `json:"sessionId"`
	SeqNo      uint64            `json:"seqNo"`
	CaptureTS  int64             `json:"captureTs"`
	Detections []detectionWire   `json:"detections"`
}

type detectionWire struct {
	TrackID string  `json:"trackId"`
	Class   string  `json:"cls"`
	Conf    float32 `json:"conf"`
	BBox    bboxWire `json:"bbox"`
}

type bboxWire struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// droppedCounter is incremented whenever the overflow queue drops the
// oldest pending request (spec.md §4.8).
type droppedCounter struct {
	mu    sync.Mutex
	count uint64
}

func (d *droppedCounter) inc() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	return d.count
}

func (d *droppedCounter) value() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Ingester uploads frames with their detections via multipart POST,
// bounded to Config.MaxInflight concurrent uploads. Excess submissions
// queue; the queue itself is bounded to 2x the in-flight window, and on
// overflow the oldest pending entry is dropped (spec.md §4.8).
type Ingester struct {
	cfg    Config
	client *http.Client
	pool   *workerpool.Pool

	mu      sync.Mutex
	pending []queued
	dropped droppedCounter

	stopOnce sync.Once
	stopCh   chan struct{}
}

type queued struct {
	req    sessionmgr.IngestRequest
	cancel context.CancelFunc
}

var _ sessionmgr.Ingester = (*Ingester)(nil)

// New builds an ingester. MaxInflight < 1 is clamped to 1.
func New(cfg Config) *Ingester {
	inflight := cfg.MaxInflight
	if inflight < 1 {
		inflight = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = httputil.DefaultRetryConfig()
	}
	return &Ingester{
		cfg:    cfg,
		client: client,
		pool:   workerpool.New(inflight),
		stopCh: make(chan struct{}),
	}
}

// queueCapacity is 2x the in-flight window per spec.md §4.8.
func (ig *Ingester) queueCapacity() int {
	return ig.pool.Capacity() * 2
}

// Submit enqueues a frame for upload. It never blocks: if a worker slot
// is free the upload starts immediately; otherwise the request is
// tracked as pending, and if the pending count already reached 2x the
// in-flight window, the oldest pending entry is dropped (counter
// incremented) to make room. Returns false only if the ingester has
// stopped.
func (ig *Ingester) Submit(req sessionmgr.IngestRequest) bool {
	select {
	case <-ig.stopCh:
		return false
	default:
	}

	if ig.pool.TrySubmit(func() { ig.upload(req) }) {
		return true
	}

	ig.mu.Lock()
	if len(ig.pending) >= ig.queueCapacity() {
		ig.pending = ig.pending[1:]
		n := ig.dropped.inc()
		log.Warn("ingest queue overflow, dropping oldest pending", "droppedTotal", n)
	}
	ig.pending = append(ig.pending, queued{req: req})
	ig.mu.Unlock()

	// Fall back to a blocking submit on the pool in a short-lived
	// goroutine so the caller (session manager) is never blocked; the
	// pool itself bounds true concurrency to MaxInflight.
	go func() {
		ig.pool.Submit(func() {
			ig.mu.Lock()
			found := false
			for i, q := range ig.pending {
				if q.req.SessionID == req.SessionID && q.req.SeqNo == req.SeqNo {
					ig.pending = append(ig.pending[:i], ig.pending[i+1:]...)
					found = true
					break
				}
			}
			ig.mu.Unlock()
			if !found {
				return // evicted by an overflow drop
			}
			ig.upload(req)
		})
	}()
	return true
}

// DroppedCount returns the number of pending requests evicted due to
// queue overflow, for observability.
func (ig *Ingester) DroppedCount() uint64 {
	return ig.dropped.value()
}

func (ig *Ingester) upload(req sessionmgr.IngestRequest) {
	body, contentType, err := buildMultipart(req, ig.cfg.maxBodyBytes())
	if err != nil {
		log.Error("ingest build multipart failed", "sessionId", req.SessionID, "seqNo", req.SeqNo, "error", err)
		return
	}

	url := ig.cfg.StoreBaseURL + "/ingest"
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	headers := http.Header{"Content-Type": []string{contentType}}
	resp, err := httputil.Do(ctx, ig.client, http.MethodPost, url, body, headers, ig.cfg.Retry)
	if err != nil {
		log.Warn("ingest upload failed after retries", "sessionId", req.SessionID, "seqNo", req.SeqNo, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// 4xx are terminal per spec.md §4.8; httputil.Do already
		// retried every retryable (5xx) status.
		log.Error("ingest rejected", "sessionId", req.SessionID, "seqNo", req.SeqNo, "status", resp.StatusCode)
		return
	}
}

// Stop marks the ingester as no longer accepting submissions and drains
// in-flight uploads.
func (ig *Ingester) Stop() {
	ig.stopOnce.Do(func() { close(ig.stopCh) })
	ig.pool.StopAccepting()
	ig.pool.Drain()
}

func buildMultipart(req sessionmgr.IngestRequest, maxBody int) ([]byte, string, error) {
	meta := metaPayload{
		SessionID: req.SessionID,
		SeqNo:     req.SeqNo,
		CaptureTS: req.CaptureTS,
	}
	for _, d := range req.Detections {
		meta.Detections = append(meta.Detections, detectionWire{
			TrackID: d.TrackID,
			Class:   d.Class,
			Conf:    d.Conf,
			BBox:    bboxWire{X: d.BBox.X, Y: d.BBox.Y, W: d.BBox.W, H: d.BBox.H},
		})
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("marshal meta: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaPart, err := w.CreateFormField("meta")
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return nil, "", err
	}

	framePart, err := w.CreateFormFile("frame", fmt.Sprintf("%s-%d.bin", req.SessionID, req.SeqNo))
	if err != nil {
		return nil, "", err
	}
	if _, err := framePart.Write(req.Frame.Bytes); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	if buf.Len() > maxBody {
		return nil, "", fmt.Errorf("ingest body %d bytes exceeds max %d", buf.Len(), maxBody)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
