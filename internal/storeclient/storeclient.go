// Package storeclient is the agent-side HTTP client for the session
// store API (spec.md §4.9, §6). It implements the narrow fsm.Store
// capability the orchestrator drives for session open/close/class
// enrichment.
package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/fsm"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/httputil"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("storeclient")

// Client talks to a session store deployment over HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
	retry   httputil.RetryConfig
}

var _ fsm.Store = (*Client)(nil)

// New builds a store client against baseURL (no trailing slash).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		retry:   httputil.DefaultRetryConfig(),
	}
}

type openRequest struct {
	SessionID string `json:"sessionId"`
	DevID     string `json:"devId"`
	StartTS   int64  `json:"startTs"`
	Path      string `json:"path"`
	Reason    string `json:"reason,omitempty"`
}

// OpenSession POSTs /sessions/open. Per spec.md §4.9 this is idempotent
// via ON CONFLICT DO NOTHING on the server; both 200 (existing) and 201
// (created) are treated as success.
func (c *Client) OpenSession(p fsm.OpenParams) error {
	body, err := json.Marshal(openRequest{
		SessionID: p.SessionID,
		DevID:     p.DeviceID,
		StartTS:   p.StartTS,
		Path:      p.Path,
		Reason:    p.Reason,
	})
	if err != nil {
		return eris.Wrap(err, "marshal open session request")
	}

	resp, err := c.do(http.MethodPost, "/sessions/open", body)
	if err != nil {
		return eris.Wrap(err, "open session")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return eris.Errorf("open session: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type closeRequest struct {
	SessionID  string `json:"sessionId"`
	EndTS      int64  `json:"endTs"`
	PostrollSec *int  `json:"postrollSec,omitempty"`
}

// CloseSession POSTs /sessions/close.
func (c *Client) CloseSession(p fsm.CloseParams) error {
	var postroll *int
	if p.PostRollMs > 0 {
		sec := p.PostRollMs / 1000
		postroll = &sec
	}
	body, err := json.Marshal(closeRequest{
		SessionID:   p.SessionID,
		EndTS:       p.EndTS,
		PostrollSec: postroll,
	})
	if err != nil {
		return eris.Wrap(err, "marshal close session request")
	}

	resp, err := c.do(http.MethodPost, "/sessions/close", body)
	if err != nil {
		return eris.Wrap(err, "close session")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return eris.Errorf("close session: unknown session %s", p.SessionID)
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("close session: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type detectionUpsert struct {
	TrackID string  `json:"trackId"`
	Class   string  `json:"cls"`
	Conf    float32 `json:"conf"`
}

type detectionsRequest struct {
	SessionID  string            `json:"sessionId"`
	Detections []detectionUpsert `json:"detections"`
}

// EnrichClasses upserts lightweight per-class placeholder detections so
// the session's detected_classes set (server-maintained) grows as new
// classes are observed. The store is responsible for the actual
// set-union semantics; the agent just reports what it saw.
func (c *Client) EnrichClasses(sessionID string, classes []string) error {
	if len(classes) == 0 {
		return nil
	}
	dets := make([]detectionUpsert, 0, len(classes))
	for _, cls := range classes {
		dets = append(dets, detectionUpsert{TrackID: "", Class: cls, Conf: 0})
	}
	body, err := json.Marshal(detectionsRequest{SessionID: sessionID, Detections: dets})
	if err != nil {
		return eris.Wrap(err, "marshal class enrichment request")
	}

	resp, err := c.do(http.MethodPost, "/detections", body)
	if err != nil {
		return eris.Wrap(err, "enrich classes")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("enrich classes: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(method, path string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	headers := http.Header{"Content-Type": []string{"application/json"}}
	return httputil.Do(ctx, c.http, method, c.baseURL+path, body, headers, c.retry)
}

// Ping checks store reachability with a GET of /sessions?limit=1. It
// returns an error on a transport failure or a 5xx status.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions?limit=1", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("store unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
