package capture

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

func TestNewPeerConnectionAddsPublisherTrack(t *testing.T) {
	src := New(16, 16)
	pub, err := NewPublisher(src, 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	h := NewSignalingHandler(pub, nil)

	pc, err := h.newPeerConnection()
	if err != nil {
		t.Fatalf("newPeerConnection: %v", err)
	}
	defer pc.Close()

	if senders := pc.GetSenders(); len(senders) != 1 {
		t.Fatalf("expected 1 sender for the publisher's track, got %d", len(senders))
	}
}

func TestCloseClosesAllActivePeers(t *testing.T) {
	src := New(16, 16)
	pub, err := NewPublisher(src, 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	h := NewSignalingHandler(pub, nil)

	pc1, err := h.newPeerConnection()
	if err != nil {
		t.Fatalf("newPeerConnection: %v", err)
	}
	pc2, err := h.newPeerConnection()
	if err != nil {
		t.Fatalf("newPeerConnection: %v", err)
	}
	h.peers[pc1] = struct{}{}
	h.peers[pc2] = struct{}{}

	h.Close()

	if len(h.peers) != 0 {
		t.Fatalf("expected peers map cleared, got %d entries", len(h.peers))
	}
	if pc1.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("expected pc1 closed, got %v", pc1.ConnectionState())
	}
	if pc2.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("expected pc2 closed, got %v", pc2.ConnectionState())
	}
}

func TestServeHTTPNegotiatesOfferAnswer(t *testing.T) {
	src := New(16, 16)
	pub, err := NewPublisher(src, 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	h := NewSignalingHandler(pub, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	clientPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("client NewPeerConnection: %v", err)
	}
	defer clientPC.Close()
	if _, err := clientPC.AddTransceiverFromKind(webrtc.RTPCodecKindVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}

	offer, err := clientPC.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := clientPC.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}

	if err := conn.WriteJSON(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp signalMessage
	for {
		var raw signalMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read response: %v", err)
		}
		if raw.Type == "answer" {
			resp = raw
			break
		}
	}
	if resp.SDP == "" {
		t.Fatal("expected a non-empty SDP answer")
	}
}
