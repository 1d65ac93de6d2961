package canbus

import (
	"context"
	"sync"
	"time"

	"github.com/brutella/can"
)

// DefaultHeartbeatInterval matches the rate-limited presence frames the
// drive controller expects from bus participants.
const DefaultHeartbeatInterval = 100 * time.Millisecond

// shutdownCode is announced on the diagnostic identifier when the
// service detaches from the bus.
const shutdownCode uint16 = 0x0FF0

// Publisher sends frames on the bus. *can.Bus satisfies it.
type Publisher interface {
	Publish(frame can.Frame) error
}

// Session is the bus protocol participant: it validates and dispatches
// inbound frames through the generation codec, keeps the last known
// SystemStatus, tracks liveness and sends periodic heartbeats.
type Session struct {
	mu     sync.RWMutex
	logger Logger
	bus    Publisher
	codec  Codec

	state     SessionState
	status    SystemStatus
	errs      SessionErrors
	lastValid time.Time

	heartbeatInterval time.Duration
	heartbeatCounter  uint8

	now func() time.Time
}

func NewSession(codec Codec, bus Publisher, logger Logger) *Session {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Session{
		logger:            logger,
		bus:               bus,
		codec:             codec,
		state:             Disconnected,
		heartbeatInterval: DefaultHeartbeatInterval,
		now:               time.Now,
	}
}

// SetHeartbeatInterval adjusts the presence frame period. A running
// session picks it up on its next heartbeat or liveness tick.
func (s *Session) SetHeartbeatInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.heartbeatInterval = d
	}
}

func (s *Session) currentHeartbeatInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartbeatInterval
}

// resyncHeartbeat re-arms the heartbeat ticker when the configured
// interval changed since it was last set, and returns the interval now
// in effect.
func (s *Session) resyncHeartbeat(hb *time.Ticker, armed time.Duration) time.Duration {
	d := s.currentHeartbeatInterval()
	if d != armed {
		hb.Reset(d)
	}
	return d
}

// HandleFrame processes one inbound bus frame. Protocol faults are
// counted and dropped; they never propagate to the bus task.
func (s *Session) HandleFrame(frame can.Frame) {
	msg := fromCANFrame(frame, s.now())
	s.logger.DebugCAN("RX", msg.ID, msg.Data[:], msg.Length)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateMessage(s.codec, msg); err != nil {
		s.errs.RxErrors++
		switch err {
		case ErrLength:
			s.errs.LengthErrors++
		case ErrChecksum:
			s.errs.ChecksumErrors++
		}
		s.logger.Debug("Dropping frame 0x%03X: %v", msg.ID, err)
		return
	}

	upd, handled := s.codec.Decode(msg)
	if !handled {
		return
	}

	s.apply(upd, msg.Timestamp)

	s.lastValid = msg.Timestamp
	if s.state != Connected {
		s.logger.Info("Bus session %s -> connected (frame 0x%03X)", s.state, msg.ID)
		s.state = Connected
	}
	s.status.Connected = true
}

// apply overwrites the status fields carried by one accepted frame.
func (s *Session) apply(upd Update, ts time.Time) {
	switch upd.Kind {
	case KindSpeed:
		s.status.Speed = upd.Speed
	case KindMotor:
		s.status.MotorPower = upd.MotorPower
		s.status.BatteryVoltage = upd.BatteryVoltage
	case KindBattery:
		s.status.BatteryLevel = upd.BatteryLevel
	case KindDisplay:
		s.status.AssistLevel = upd.AssistLevel
		s.status.AssistFlags = upd.AssistFlags
	case KindDiagnostic:
		s.status.LastError = upd.ErrorCode
		if upd.ErrorCode != 0 {
			s.logger.Warn("Controller reported error 0x%04X", upd.ErrorCode)
		}
	case KindHeartbeat:
		// Our own presence frame looped back; liveness only.
	}
	s.status.LastMessage = ts
}

// Run drives heartbeats and liveness checks until ctx is cancelled.
// A failed heartbeat is logged as an error condition, never fatal.
func (s *Session) Run(ctx context.Context) {
	hbInterval := s.currentHeartbeatInterval()

	hb := time.NewTicker(hbInterval)
	defer hb.Stop()
	live := time.NewTicker(s.codec.LivenessWindow() / 4)
	defer live.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.SendShutdown(); err != nil {
				s.logger.Debug("Shutdown frame not sent: %v", err)
			}
			return
		case <-hb.C:
			if err := s.SendHeartbeat(); err != nil {
				s.logger.Error("Missed heartbeat: %v", err)
			}
			hbInterval = s.resyncHeartbeat(hb, hbInterval)
		case <-live.C:
			s.checkLiveness()
			hbInterval = s.resyncHeartbeat(hb, hbInterval)
		}
	}
}

func (s *Session) checkLiveness() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return
	}
	if s.now().Sub(s.lastValid) > s.codec.LivenessWindow() {
		s.state = Degraded
		s.status.Connected = false
		s.logger.Warn("Bus silent for %v, session degraded", s.codec.LivenessWindow())
	}
}

// SendSpeed publishes a speed telemetry frame built from current state.
func (s *Session) SendSpeed(speedKmh float32) error {
	return s.send(s.codec.EncodeSpeed(speedKmh))
}

// SendMotor publishes a motor power telemetry frame.
func (s *Session) SendMotor(powerW uint16) error {
	return s.send(s.codec.EncodeMotor(powerW))
}

// SendHeartbeat publishes a presence frame with a rolling counter.
func (s *Session) SendHeartbeat() error {
	s.mu.Lock()
	s.heartbeatCounter++
	counter := s.heartbeatCounter
	s.mu.Unlock()

	return s.send(s.codec.EncodeHeartbeat(counter))
}

// SendShutdown announces that this participant is leaving the bus.
func (s *Session) SendShutdown() error {
	return s.send(s.codec.EncodeDiagnostic(shutdownCode))
}

// send publishes one frame. Failures are counted and returned to the
// caller; there is no retry, a real-time task must not block on the bus.
func (s *Session) send(msg Message) error {
	frame := toCANFrame(msg)
	s.logger.DebugCAN("TX", frame.ID, frame.Data[:], frame.Length)

	if err := s.bus.Publish(frame); err != nil {
		s.mu.Lock()
		s.errs.TxErrors++
		s.mu.Unlock()
		return err
	}
	return nil
}

// Status returns a copy of the last known controller state.
func (s *Session) Status() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// State returns the current liveness state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Errors returns a copy of the fault counters.
func (s *Session) Errors() SessionErrors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errs
}

// ClearErrors resets the fault counters.
func (s *Session) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = SessionErrors{}
}

func fromCANFrame(frame can.Frame, ts time.Time) Message {
	return Message{
		ID:        frame.ID,
		Length:    frame.Length,
		Data:      frame.Data,
		Timestamp: ts,
	}
}

func toCANFrame(msg Message) can.Frame {
	return can.Frame{
		ID:     msg.ID,
		Length: msg.Length,
		Data:   msg.Data,
	}
}
