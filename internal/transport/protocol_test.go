package transport

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := EncodeFrame(Frame{FrameID: 42, SessionID: "s1", Width: 640, Height: 480, CaptureTS: 1234, Bytes: []byte("jpeg")})

	if err := WriteMessage(&buf, MsgFrame, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != MsgFrame {
		t.Fatalf("expected MsgFrame, got %d", typ)
	}

	frame, err := DecodeFrame(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.FrameID != 42 || frame.SessionID != "s1" || string(frame.Bytes) != "jpeg" {
		t.Fatalf("round trip mismatch: %+v", frame)
	}
}

func TestResultRoundTripWithDetections(t *testing.T) {
	res := Result{FrameID: 7, Detections: []DetectionWire{
		{TrackID: "t1", Class: "person", Conf: 0.9, X: 1, Y: 2, W: 3, H: 4},
		{TrackID: "", Class: "car", Conf: 0.5},
	}}

	var buf bytes.Buffer
	WriteMessage(&buf, MsgResult, EncodeResult(res))
	typ, payload, err := ReadMessage(&buf)
	if err != nil || typ != MsgResult {
		t.Fatalf("read: %v type=%d", err, typ)
	}

	got, err := DecodeResult(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Detections) != 2 || got.Detections[0].TrackID != "t1" {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	WriteMessage(&buf, MsgInit, make([]byte, 10))
	raw := buf.Bytes()
	// Corrupt the length prefix to an implausible value.
	raw[0], raw[1], raw[2], raw[3] = 0x7f, 0xff, 0xff, 0xff

	_, _, err := ReadMessage(bytes.NewReader(raw))
	if err == nil {
		t.Fatal("expected protocol error for oversized frame length")
	}
	if _, ok := err.(*ErrProtocol); !ok {
		t.Fatalf("expected *ErrProtocol, got %T", err)
	}
}
