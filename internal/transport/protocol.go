package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/detect"
)

// MsgType tags the wire payload union (spec.md §4.4).
type MsgType byte

const (
	MsgInit MsgType = iota + 1
	MsgInitOk
	MsgFrame
	MsgResult
	MsgEnd
	MsgHeartbeat
)

// maxFrameLen bounds a single wire frame to protect against a
// corrupted/malicious length prefix forcing an unbounded allocation.
const maxFrameLen = 32 * 1024 * 1024

// Init is the handshake request: model + tensor shape + pixel format.
type Init struct {
	Model  string
	Width  int32
	Height int32
	Format string
}

// InitOk acknowledges a successful handshake.
type InitOk struct{}

// Frame submits one sample for inference.
type Frame struct {
	FrameID   uint64
	SessionID string // empty means "no session tag"
	Width     int32
	Height    int32
	CaptureTS int64
	Bytes     []byte
}

// DetectionWire is the wire form of detect.Detection.
type DetectionWire struct {
	TrackID string
	Class   string
	Conf    float32
	X, Y, W, H float32
}

// Result is a worker response correlated by FrameID.
type Result struct {
	FrameID    uint64
	Detections []DetectionWire
}

// End is advisory: the current session closed. It does not close the
// transport connection.
type End struct {
	SessionID string
}

// Heartbeat is a bidirectional liveness ping.
type Heartbeat struct{}

// ToDetections converts the wire form to the domain type.
func ToDetections(in []DetectionWire) []detect.Detection {
	out := make([]detect.Detection, 0, len(in))
	for _, d := range in {
		out = append(out, detect.Detection{
			TrackID: d.TrackID,
			Class:   d.Class,
			Conf:    d.Conf,
			BBox:    detect.BBox{X: float64(d.X), Y: float64(d.Y), W: float64(d.W), H: float64(d.H)},
		})
	}
	return out
}

// FromDetections converts the domain type to the wire form.
func FromDetections(in []detect.Detection) []DetectionWire {
	out := make([]DetectionWire, 0, len(in))
	for _, d := range in {
		out = append(out, DetectionWire{
			TrackID: d.TrackID, Class: d.Class, Conf: d.Conf,
			X: float32(d.BBox.X), Y: float32(d.BBox.Y), W: float32(d.BBox.W), H: float32(d.BBox.H),
		})
	}
	return out
}

// ErrProtocol marks a framing or payload decode failure: the connection
// must be reset, per spec.md §4.4.
type ErrProtocol struct{ Err error }

func (e *ErrProtocol) Error() string { return fmt.Sprintf("transport: protocol error: %v", e.Err) }
func (e *ErrProtocol) Unwrap() error { return e.Err }

// WriteMessage frames typ+payload as a 4-byte big-endian length prefix
// followed by a 1-byte type tag and the encoded payload.
func WriteMessage(w io.Writer, typ MsgType, payload []byte) error {
	body := make([]byte, 1+len(payload))
	body[0] = byte(typ)
	copy(body[1:], payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadMessage reads one length-prefixed frame and splits it into its
// type tag and payload. Returns *ErrProtocol on framing violations.
func ReadMessage(r io.Reader) (MsgType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err // EOF/closed connection, not a protocol error
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameLen {
		return 0, nil, &ErrProtocol{Err: fmt.Errorf("invalid frame length %d", n)}
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	return MsgType(body[0]), body[1:], nil
}

// --- payload encoding: simple length-prefixed fields, no external codec
// needed for the small fixed-shape messages exchanged with the worker.

func putString(buf *bytes.Buffer, s string) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(l[:])
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds remaining buffer", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(l[:])
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("byte length %d exceeds remaining buffer", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeInit/DecodeInit and friends implement the tagged-union payload
// schema described in spec.md §4.4.

func EncodeInit(m Init) []byte {
	var buf bytes.Buffer
	putString(&buf, m.Model)
	binary.Write(&buf, binary.BigEndian, m.Width)
	binary.Write(&buf, binary.BigEndian, m.Height)
	putString(&buf, m.Format)
	return buf.Bytes()
}

func DecodeInit(payload []byte) (Init, error) {
	r := bytes.NewReader(payload)
	var m Init
	var err error
	if m.Model, err = getString(r); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if err = binary.Read(r, binary.BigEndian, &m.Width); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if err = binary.Read(r, binary.BigEndian, &m.Height); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if m.Format, err = getString(r); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	return m, nil
}

func EncodeFrame(m Frame) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.FrameID)
	putString(&buf, m.SessionID)
	binary.Write(&buf, binary.BigEndian, m.Width)
	binary.Write(&buf, binary.BigEndian, m.Height)
	binary.Write(&buf, binary.BigEndian, m.CaptureTS)
	putBytes(&buf, m.Bytes)
	return buf.Bytes()
}

func DecodeFrame(payload []byte) (Frame, error) {
	r := bytes.NewReader(payload)
	var m Frame
	var err error
	if err = binary.Read(r, binary.BigEndian, &m.FrameID); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if m.SessionID, err = getString(r); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if err = binary.Read(r, binary.BigEndian, &m.Width); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if err = binary.Read(r, binary.BigEndian, &m.Height); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if err = binary.Read(r, binary.BigEndian, &m.CaptureTS); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if m.Bytes, err = getBytes(r); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	return m, nil
}

func EncodeResult(m Result) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.FrameID)
	binary.Write(&buf, binary.BigEndian, uint32(len(m.Detections)))
	for _, d := range m.Detections {
		putString(&buf, d.TrackID)
		putString(&buf, d.Class)
		binary.Write(&buf, binary.BigEndian, d.Conf)
		binary.Write(&buf, binary.BigEndian, d.X)
		binary.Write(&buf, binary.BigEndian, d.Y)
		binary.Write(&buf, binary.BigEndian, d.W)
		binary.Write(&buf, binary.BigEndian, d.H)
	}
	return buf.Bytes()
}

func DecodeResult(payload []byte) (Result, error) {
	r := bytes.NewReader(payload)
	var m Result
	if err := binary.Read(r, binary.BigEndian, &m.FrameID); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return m, &ErrProtocol{Err: err}
	}
	if count > 10000 {
		return m, &ErrProtocol{Err: fmt.Errorf("implausible detection count %d", count)}
	}
	m.Detections = make([]DetectionWire, 0, count)
	for i := uint32(0); i < count; i++ {
		var d DetectionWire
		var err error
		if d.TrackID, err = getString(r); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		if d.Class, err = getString(r); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		if err = binary.Read(r, binary.BigEndian, &d.Conf); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		if err = binary.Read(r, binary.BigEndian, &d.X); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		if err = binary.Read(r, binary.BigEndian, &d.Y); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		if err = binary.Read(r, binary.BigEndian, &d.W); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		if err = binary.Read(r, binary.BigEndian, &d.H); err != nil {
			return m, &ErrProtocol{Err: err}
		}
		m.Detections = append(m.Detections, d)
	}
	return m, nil
}

func EncodeEnd(m End) []byte {
	var buf bytes.Buffer
	putString(&buf, m.SessionID)
	return buf.Bytes()
}

func DecodeEnd(payload []byte) (End, error) {
	r := bytes.NewReader(payload)
	s, err := getString(r)
	if err != nil {
		return End{}, &ErrProtocol{Err: err}
	}
	return End{SessionID: s}, nil
}
