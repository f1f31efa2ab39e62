package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	internalbackoff "github.com/ArtemioPadilla/tangguh/internal/backoff"
)

var errStreamingDisabled = errors.New("streaming transport disabled")

type supEventKind int

const (
	supEvConnect supEventKind = iota
	supEvStreamDown
)

type supEvent struct {
	kind   supEventKind
	gen    uint64
	err    error
	manual bool
}

// connSupervisor owns transport selection and the connect / disconnect
// lifecycle. It is an explicit state machine driven by an internal event
// channel: transport callbacks and timers post events, a single run loop
// applies transitions. Exactly one supervisor exists per client, and at
// most one live streaming handle at a time.
type connSupervisor struct {
	client *Client

	stream      StreamTransport
	fallback    CallTransport
	streamURL   string
	reconnect   ReconnectConfig
	reconnectOn bool
	probeEvery  time.Duration
	dialTimeout time.Duration
	calc        *internalbackoff.Calculator

	mu           sync.Mutex
	state        ConnectionState
	status       ConnectionStatus
	attempts     int
	gen          uint64
	retryPending bool
	connecting   bool

	events chan supEvent
	stopCh chan struct{}
	stopMu sync.Once
	wg     sync.WaitGroup
}

func newConnSupervisor(c *Client) *connSupervisor {
	return &connSupervisor{
		client:      c,
		stream:      c.stream,
		fallback:    c.fallback,
		streamURL:   c.serverURL,
		reconnect:   c.reconnectCfg,
		reconnectOn: c.enableReconnect,
		probeEvery:  c.probeInterval,
		dialTimeout: c.dialTimeout,
		calc:        internalbackoff.NewExponentialCalculator(),
		state:       StateDisconnected,
		status:      ConnectionStatus{State: StateDisconnected, Protocol: ProtocolNone},
		events:      make(chan supEvent, 8),
		stopCh:      make(chan struct{}),
	}
}

// start launches the run loop and posts the initial connect event.
func (s *connSupervisor) start() {
	s.mu.Lock()
	s.connecting = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	s.post(supEvent{kind: supEvConnect})
}

// stop terminates the run loop and closes any live streaming handle.
func (s *connSupervisor) stop() {
	s.stopMu.Do(func() {
		close(s.stopCh)
	})
	if s.stream != nil {
		_ = s.stream.Close()
	}
	s.wg.Wait()
}

// requestReconnect resets the attempt budget and forces a fresh connect.
func (s *connSupervisor) requestReconnect() {
	s.mu.Lock()
	s.connecting = true
	s.mu.Unlock()
	s.post(supEvent{kind: supEvConnect, manual: true})
}

func (s *connSupervisor) post(ev supEvent) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

func (s *connSupervisor) run() {
	defer s.wg.Done()

	retry := time.NewTimer(time.Hour)
	if !retry.Stop() {
		<-retry.C
	}

	var probeC <-chan time.Time
	if s.probeEvery > 0 {
		ticker := time.NewTicker(s.probeEvery)
		defer ticker.Stop()
		probeC = ticker.C
	}

	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.events:
			switch ev.kind {
			case supEvConnect:
				if ev.manual {
					s.mu.Lock()
					s.attempts = 0
					s.status.ReconnectAttempts = 0
					s.mu.Unlock()
				}
				s.attemptConnect(retry)
			case supEvStreamDown:
				if !s.isCurrentGen(ev.gen) {
					continue
				}
				s.onStreamDown(ev.err, retry)
			}
		case <-retry.C:
			s.mu.Lock()
			s.retryPending = false
			s.mu.Unlock()
			s.attemptConnect(retry)
		case <-probeC:
			s.onProbeTick(retry)
		}
	}
}

func (s *connSupervisor) isCurrentGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// attemptConnect tries the streaming transport first. On failure it either
// schedules a backoff retry, degrades to the fallback channel, or goes
// fully disconnected.
func (s *connSupervisor) attemptConnect(retry *time.Timer) {
	if s.stream == nil || s.streamURL == "" {
		s.degrade(errStreamingDisabled, retry, false)
		return
	}

	s.mu.Lock()
	if s.state == StateConnectedStreaming {
		s.mu.Unlock()
		return
	}
	if s.attempts > 0 {
		s.setStateLocked(StateReconnectingStreaming)
	} else {
		s.setStateLocked(StateConnectingStreaming)
	}
	s.connecting = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	err := s.stream.Open(ctx, s.streamURL, StreamEvents{
		OnMessage: s.client.handleMessage,
		OnClose: func(cause error) {
			s.post(supEvent{kind: supEvStreamDown, gen: gen, err: cause})
		},
	})
	cancel()

	if err != nil {
		s.recordError(err)
		s.client.debugLog(s.client.debugConnection(), "streaming connect failed", "error", err)
		s.degrade(err, retry, true)
		return
	}

	s.mu.Lock()
	s.setStateLocked(StateConnectedStreaming)
	s.attempts = 0
	s.connecting = false
	s.status.Connected = true
	s.status.Protocol = ProtocolStreaming
	s.status.ReconnectAttempts = 0
	s.status.LastConnectedAt = time.Now()
	s.status.LastError = ""
	s.mu.Unlock()

	if s.client.logger != nil {
		s.client.logger.Info("connected", "protocol", ProtocolStreaming, "url", s.streamURL)
	}
	s.client.triggerDrain()
}

// onStreamDown handles a transport-reported disconnect: the in-flight
// attempt fails over to the retry machinery and the supervisor schedules
// recovery.
func (s *connSupervisor) onStreamDown(cause error, retry *time.Timer) {
	s.recordError(cause)

	s.mu.Lock()
	s.setStateLocked(StateDisconnected)
	s.status.Connected = false
	s.status.Protocol = ProtocolNone
	s.mu.Unlock()

	if s.client.logger != nil {
		s.client.logger.Warn("streaming connection lost", "error", cause)
	}

	s.client.streamDown(cause)
	s.degrade(cause, retry, true)
}

// degrade picks the best remaining posture after a streaming failure:
// schedule a backoff retry while serving over fallback if available, or go
// disconnected once the attempt budget is spent.
func (s *connSupervisor) degrade(cause error, retry *time.Timer, scheduleRetry bool) {
	s.mu.Lock()

	canRetry := scheduleRetry && s.reconnectOn && s.stream != nil &&
		s.attempts < s.reconnect.MaxAttempts
	var delay time.Duration
	if canRetry {
		delay = s.calc.Calculate(s.attempts, s.reconnect.InitialDelay,
			s.reconnect.MaxDelay, s.reconnect.Multiplier, s.reconnect.Jitter)
		s.attempts++
		s.status.ReconnectAttempts = s.attempts
		s.retryPending = true
	}
	s.connecting = false

	haveFallback := s.fallback != nil
	if haveFallback {
		s.setStateLocked(StateConnectedFallback)
		s.status.Connected = true
		s.status.Protocol = ProtocolFallback
		s.status.LastConnectedAt = time.Now()
	} else if canRetry {
		s.setStateLocked(StateReconnectingStreaming)
		s.status.Connected = false
		s.status.Protocol = ProtocolNone
	} else {
		s.setStateLocked(StateDisconnected)
		s.status.Connected = false
		s.status.Protocol = ProtocolNone
	}
	s.mu.Unlock()

	if canRetry {
		s.client.collector.RecordReconnect()
		s.client.debugLog(s.client.debugConnection(), "reconnect scheduled",
			"delay", delay, "attempt", s.ReconnectAttempts())
		retry.Reset(delay)
	} else if cause != nil && s.client.logger != nil && !errors.Is(cause, errStreamingDisabled) {
		s.client.logger.Warn("streaming recovery abandoned", "error", cause)
	}

	if haveFallback {
		s.client.triggerDrain()
	}
}

// onProbeTick measures round-trip health on whatever transport is active.
// While degraded to fallback with no retry pending, the tick doubles as the
// promotion probe back to streaming.
func (s *connSupervisor) onProbeTick(retry *time.Timer) {
	s.mu.Lock()
	state := s.state
	promote := state == StateConnectedFallback && s.stream != nil &&
		s.streamURL != "" && s.reconnectOn && !s.retryPending
	s.mu.Unlock()

	if promote {
		s.attemptConnect(retry)
		return
	}

	if state == StateConnectedStreaming || state == StateConnectedFallback {
		go s.probe()
	}
}

// probe issues a lightweight round trip through the orchestrator and
// records the measured latency. Probe failures are logged but never trigger
// reconnection; that stays transport-event-driven.
func (s *connSupervisor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
	defer cancel()

	start := time.Now()
	err := s.client.probeRequest(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if s.client.logger != nil {
			s.client.logger.Warn("health probe failed", "error", err)
		}
		return
	}

	s.mu.Lock()
	s.status.LatencyMs = float64(elapsed.Microseconds()) / 1000.0
	s.mu.Unlock()
	s.client.collector.RecordProbeLatency(elapsed)
}

func (s *connSupervisor) setStateLocked(state ConnectionState) {
	s.state = state
	s.status.State = state
	s.client.collector.RecordConnectionState(state)
}

func (s *connSupervisor) recordError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}

// usable reports which transport can carry a dispatch right now. The
// fallback keeps serving through connect and reconnect dial windows: it is
// stateless, so a streaming dial in flight never blocks it.
func (s *connSupervisor) usable() (Protocol, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnectedStreaming:
		return ProtocolStreaming, true
	case StateConnectedFallback, StateConnectingStreaming, StateReconnectingStreaming:
		if s.fallback != nil {
			return ProtocolFallback, true
		}
	}
	return ProtocolNone, false
}

// exhausted reports that no transport is usable and no recovery is coming:
// new dispatches should fail fast rather than queue indefinitely.
func (s *connSupervisor) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnectedStreaming, StateConnectedFallback:
		return false
	}
	if s.fallback != nil {
		return false
	}
	return !s.retryPending && !s.connecting
}

// currentStatus returns a copy of the connection status for observers.
func (s *connSupervisor) currentStatus() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ReconnectAttempts returns the number of reconnect attempts scheduled
// since the last successful streaming connect.
func (s *connSupervisor) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// retryScheduled reports whether a backoff retry timer is armed.
func (s *connSupervisor) retryScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryPending
}

func (s *connSupervisor) sendStreaming(ctx context.Context, id, method string, params json.RawMessage) error {
	return s.stream.Send(ctx, id, method, params)
}

func (s *connSupervisor) callFallback(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return s.fallback.Call(ctx, method, params)
}
