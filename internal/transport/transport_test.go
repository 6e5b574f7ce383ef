package transport

import (
	"net"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu        sync.Mutex
	readyN    int
	results   []Result
	disconnects int
}

func (f *fakeSink) OnReady() {
	f.mu.Lock()
	f.readyN++
	f.mu.Unlock()
}
func (f *fakeSink) OnResult(frameID uint64, detections []DetectionWire) {
	f.mu.Lock()
	f.results = append(f.results, Result{FrameID: frameID, Detections: detections})
	f.mu.Unlock()
}
func (f *fakeSink) OnDisconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

// startFakeWorker accepts connections until stopped; on each it replies
// InitOk, then echoes a Result for every Frame it receives (frameId
// passthrough, no detections) until that connection closes.
func startFakeWorker(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				typ, _, err := ReadMessage(conn)
				if err != nil || typ != MsgInit {
					return
				}
				WriteMessage(conn, MsgInitOk, nil)

				for {
					typ, payload, err := ReadMessage(conn)
					if err != nil {
						return
					}
					switch typ {
					case MsgFrame:
						f, err := DecodeFrame(payload)
						if err != nil {
							return
						}
						WriteMessage(conn, MsgResult, EncodeResult(Result{FrameID: f.FrameID}))
					case MsgHeartbeat:
						WriteMessage(conn, MsgHeartbeat, nil)
					}
				}
			}()
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestClientHandshakeAndResultDelivery(t *testing.T) {
	addr, stop := startFakeWorker(t)
	defer stop()

	sink := &fakeSink{}
	c := New(Config{Addr: addr, Model: "yolo", Width: 640, Height: 480, Format: "jpeg"})
	c.SetSink(sink)
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !c.Ready() {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Ready() {
		t.Fatal("client never became ready")
	}

	if err := c.SendFrame(Frame{FrameID: 99, Width: 640, Height: 480, Bytes: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.results)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.results) != 1 || sink.results[0].FrameID != 99 {
		t.Fatalf("expected correlated result for frame 99, got %+v", sink.results)
	}
}

func TestSendFrameFailsWhenNotReady(t *testing.T) {
	sink := &fakeSink{}
	c := New(Config{Addr: "127.0.0.1:1"}) // nothing listening
	c.SetSink(sink)

	if err := c.SendFrame(Frame{FrameID: 1}); err == nil {
		t.Fatal("expected error sending frame before ready")
	}
}
