package sessionmgr

import (
	"sync"
	"testing"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/cache"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/detect"
)

type fakeCache struct {
	frames map[uint64]cache.Frame
}

func (f *fakeCache) Get(id uint64) (cache.Frame, bool) {
	fr, ok := f.frames[id]
	return fr, ok
}

type fakeIngester struct {
	mu   sync.Mutex
	reqs []IngestRequest
}

func (f *fakeIngester) Submit(req IngestRequest) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return true
}

func TestIngestFrameMissingSessionSkips(t *testing.T) {
	m := New(&fakeCache{frames: map[uint64]cache.Frame{}}, &fakeIngester{})
	if m.IngestFrame(1, nil) {
		t.Fatal("expected false with no active session")
	}
}

func TestIngestFrameCacheMissSkips(t *testing.T) {
	m := New(&fakeCache{frames: map[uint64]cache.Frame{}}, &fakeIngester{})
	m.SetSession("s1")
	if m.IngestFrame(1, nil) {
		t.Fatal("expected false on cache miss")
	}
}

func TestSeqNoStrictlyIncreasingFromZero(t *testing.T) {
	c := &fakeCache{frames: map[uint64]cache.Frame{
		1: {FrameID: 1}, 2: {FrameID: 2}, 3: {FrameID: 3},
	}}
	ing := &fakeIngester{}
	m := New(c, ing)
	m.SetSession("s1")

	for _, id := range []uint64{1, 2, 3} {
		if !m.IngestFrame(id, []detect.Detection{{TrackID: "t1"}}) {
			t.Fatalf("expected ingest to succeed for frame %d", id)
		}
	}

	for i, r := range ing.reqs {
		if r.SeqNo != uint64(i) {
			t.Fatalf("expected seqNo %d, got %d", i, r.SeqNo)
		}
	}
}

func TestSeqNoResetsOnNewSession(t *testing.T) {
	c := &fakeCache{frames: map[uint64]cache.Frame{1: {FrameID: 1}, 2: {FrameID: 2}}}
	ing := &fakeIngester{}
	m := New(c, ing)

	m.SetSession("s1")
	m.IngestFrame(1, nil)

	m.SetSession("s2")
	m.IngestFrame(2, nil)

	if ing.reqs[1].SeqNo != 0 {
		t.Fatalf("expected seqNo reset to 0 on new session, got %d", ing.reqs[1].SeqNo)
	}
	if ing.reqs[1].SessionID != "s2" {
		t.Fatalf("expected new session id tagged, got %s", ing.reqs[1].SessionID)
	}
}
