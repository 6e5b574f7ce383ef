package capture

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/fsm"
)

// Publisher drives a pion/webrtc static-sample video track for the
// live/on-demand recording feed (spec.md §1; SPEC_FULL.md §4.14). It
// implements fsm.Publisher: Start/Stop bracket an ACTIVE recording
// session, pushing whatever Source.Pull() currently returns onto the
// track at a fixed cadence for the duration.
type Publisher struct {
	src    *Source
	track  *webrtc.TrackLocalStaticSample
	period time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ fsm.Publisher = (*Publisher)(nil)

// NewPublisher builds a publisher reading frames from src and writing
// H.264 samples onto a freshly created local video track at the given
// push period.
func NewPublisher(src *Source, pushPeriod time.Duration) (*Publisher, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video", "edge-agent-recording",
	)
	if err != nil {
		return nil, err
	}
	if pushPeriod <= 0 {
		pushPeriod = 200 * time.Millisecond
	}
	return &Publisher{src: src, track: track, period: pushPeriod}, nil
}

// Track exposes the underlying local track so a signaling layer (out of
// scope) can add it to a peer connection.
func (p *Publisher) Track() *webrtc.TrackLocalStaticSample {
	return p.track
}

// Start begins pushing samples. Idempotent.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop halts sample pushing. Idempotent.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			frame, ok := p.src.Pull()
			if !ok {
				continue
			}
			_ = p.track.WriteSample(media.Sample{
				Data:     frame.Bytes,
				Duration: p.period,
			})
		}
	}
}
