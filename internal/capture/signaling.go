package capture

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const (
	signalWriteWait = 10 * time.Second
	signalPongWait  = 60 * time.Second
)

// signalMessage is the offer/answer/candidate envelope exchanged with a
// preview client over the websocket signaling channel.
type signalMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// SignalingHandler upgrades preview-client HTTP requests to a websocket
// and negotiates a pion/webrtc peer connection carrying Publisher's
// track, the wire representation for spec.md §1's "live feed" and
// "on-demand recording" preview paths.
type SignalingHandler struct {
	publisher *Publisher
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewSignalingHandler builds a handler serving previews of pub's track.
// checkOrigin mirrors the catalog UI's own origin allowlist; a nil
// checkOrigin accepts any origin (e.g. local development).
func NewSignalingHandler(pub *Publisher, checkOrigin func(*http.Request) bool) *SignalingHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &SignalingHandler{
		publisher: pub,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		peers:     make(map[*webrtc.PeerConnection]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs one signaling session until
// the client disconnects or sends an error.
func (h *SignalingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("signaling upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pc, err := h.newPeerConnection()
	if err != nil {
		log.Error("signaling peer connection failed", "error", err)
		return
	}
	defer pc.Close()

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.peers, pc)
		h.mu.Unlock()
	}()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		h.writeMessage(conn, signalMessage{Type: "candidate", Candidate: &init})
	})

	conn.SetReadDeadline(time.Now().Add(signalPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(signalPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("signaling read error", "error", err)
			}
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn("signaling malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case "offer":
			if err := h.handleOffer(conn, pc, msg.SDP); err != nil {
				log.Warn("signaling offer handling failed", "error", err)
				return
			}
		case "candidate":
			if msg.Candidate != nil {
				if err := pc.AddICECandidate(*msg.Candidate); err != nil {
					log.Warn("signaling add candidate failed", "error", err)
				}
			}
		}
	}
}

func (h *SignalingHandler) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTrack(h.publisher.Track()); err != nil {
		pc.Close()
		return nil, err
	}
	return pc, nil
}

func (h *SignalingHandler) handleOffer(conn *websocket.Conn, pc *webrtc.PeerConnection, sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return h.writeMessage(conn, signalMessage{Type: "answer", SDP: answer.SDP})
}

func (h *SignalingHandler) writeMessage(conn *websocket.Conn, msg signalMessage) error {
	conn.SetWriteDeadline(time.Now().Add(signalWriteWait))
	return conn.WriteJSON(msg)
}

// Close shuts down every active peer connection, used on agent shutdown.
func (h *SignalingHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for pc := range h.peers {
		pc.Close()
	}
	h.peers = make(map[*webrtc.PeerConnection]struct{})
}
