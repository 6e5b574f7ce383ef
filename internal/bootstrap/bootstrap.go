// Package bootstrap is the agent process's composition root: it wires
// the event bus, frame cache, capture/publisher, AI feeder/transport,
// orchestrator FSM, timers, session manager, and frame ingester into
// one running agent (spec.md §1, §9). Mirrors the shape of the
// teacher's cmd/breeze-agent runAgent, generalized from a single HTTP
// heartbeat client to this process's several long-lived collaborators.
package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/bus"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/cache"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/capture"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/config"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/feeder"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/fsm"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/health"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/httputil"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/ingester"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/sessionmgr"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/storeclient"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/timers"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/transport"
)

var log = logging.L("bootstrap")

// Agent holds every long-lived collaborator so the caller (cmd/edge-agent)
// can start, expose /status, and shut the whole thing down cleanly.
type Agent struct {
	cfg config.Config

	Bus      *bus.Bus
	Cache    *cache.Cache
	Timers   *timers.Manager
	Source   *capture.Source
	Pub      *capture.Publisher
	Signal   *capture.SignalingHandler
	Transport *transport.Client
	Feeder   *feeder.Feeder
	Store    *storeclient.Client
	SessMgr  *sessionmgr.Manager
	Ingester *ingester.Ingester
	Orch     *fsm.Orchestrator

	Health  *health.Registry
	Metrics *health.Metrics
}

// New wires every collaborator per cfg but does not start any of them.
// The construction order resolves the transport<->feeder cyclic
// dependency (spec.md §9): transport is built first without a sink,
// the feeder is built against it, then SetSink closes the loop.
func New(cfg config.Config) (*Agent, error) {
	a := &Agent{cfg: cfg}

	a.Bus = bus.New()
	a.Cache = cache.New(time.Duration(cfg.FrameCacheTTLMs) * time.Millisecond)
	a.Timers = timers.New(a.Bus)

	a.Health = health.NewRegistry()
	a.Metrics = health.NewMetrics()

	a.Source = capture.New(cfg.FrameWidth, cfg.FrameHeight)

	pub, err := capture.NewPublisher(a.Source, 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	a.Pub = pub
	a.Signal = capture.NewSignalingHandler(a.Pub, nil)

	a.Transport = transport.New(transport.Config{
		Addr:   cfg.WorkerAddr,
		Model:  cfg.Model,
		Width:  int32(cfg.FrameWidth),
		Height: int32(cfg.FrameHeight),
		Format: cfg.PreferredFormat,
	})

	a.Store = storeclient.New(cfg.StoreBaseURL)

	ing := ingester.New(ingester.Config{
		StoreBaseURL: cfg.StoreBaseURL,
		MaxInflight:  cfg.MaxInflight,
		MaxBodyBytes: cfg.IngestMaxBodyBytes,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Retry:        httputil.DefaultRetryConfig(),
	})
	a.Ingester = ing

	a.SessMgr = sessionmgr.New(a.Cache, a.Ingester)

	a.Feeder = feeder.New(a.Bus, a.Cache, a.Source, a.Transport, a.SessMgr)
	if err := a.Feeder.Init(feeder.Config{
		Model:               cfg.Model,
		Width:               cfg.FrameWidth,
		Height:              cfg.FrameHeight,
		MaxInflight:         cfg.MaxInflight,
		ClassesFilter:       cfg.ClassesFilter,
		ConfidenceThreshold: float32(cfg.ConfidenceThreshold),
		Policy:              feeder.Policy(cfg.FeederPolicy),
		PreferredFormat:     cfg.PreferredFormat,
	}); err != nil {
		return nil, err
	}
	a.Transport.SetSink(a.Feeder)

	a.Orch = fsm.New(fsm.Config{
		DeviceID:   cfg.DeviceID,
		StreamPath: cfg.StreamPath,
		DwellMs:    cfg.DwellMs,
		SilenceMs:  cfg.SilenceMs,
		PostRollMs: cfg.PostRollMs,
		FPSIdle:    cfg.FPSIdle,
		FPSActive:  cfg.FPSActive,
	}, a.Bus, a.Timers, a.Source, a.Pub, a.Feeder, a.Store, a.SessMgr)

	return a, nil
}

// Start brings every collaborator up in dependency order: orchestrator
// subscribes first (so it never misses an early ai.* event), then the
// feeder begins pulling and submitting frames, then capture's sampling
// loop and the transport's reconnect loop run continuously in the
// background for the life of the process.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Orch.Start(); err != nil {
		return err
	}
	a.Transport.Start()
	a.Feeder.Start() // starts capture internally
	a.Metrics.StartHostSampler(15*time.Second, a.cfg.TracksStoragePath)

	a.Health.Report("bus", health.StatusOK, "")
	a.Health.Report("capture", health.StatusOK, "")
	log.Info("agent started", "device", a.cfg.DeviceID, "stream", a.cfg.StreamPath)
	return nil
}

// Stop tears every collaborator down in reverse dependency order.
func (a *Agent) Stop() {
	a.Metrics.StopHostSampler()
	a.Feeder.Stop()
	a.Transport.Stop()
	_ = a.Source.Stop()
	_ = a.Pub.Stop()
	a.Signal.Close()
	a.Orch.Stop()
	a.Ingester.Stop()
	log.Info("agent stopped")
}
