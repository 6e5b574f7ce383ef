package bus

// Topics published on the agent's event bus (spec.md §4.1).
const (
	TopicAIDetection  = "ai.detection"
	TopicAIKeepalive  = "ai.keepalive"
	TopicDwellOK      = "fsm.t.dwell.ok"
	TopicSilenceOK    = "fsm.t.silence.ok"
	TopicPostRollOK   = "fsm.t.postroll.ok"
	TopicSessionOpen  = "session.open"
	TopicSessionClose = "session.close"
	TopicSessionCloseError = "session.close.error"
	TopicPublisherStarted = "publisher.started"
	TopicPublisherStopped = "publisher.stopped"
)
