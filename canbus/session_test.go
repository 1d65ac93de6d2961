package canbus

import (
	"errors"
	"testing"
	"time"

	"github.com/brutella/can"
)

// testLogger implements Logger for testing
type testLogger struct{}

func (l *testLogger) Printf(format string, v ...interface{}) {}
func (l *testLogger) Debug(format string, v ...interface{})  {}
func (l *testLogger) Info(format string, v ...interface{})   {}
func (l *testLogger) Warn(format string, v ...interface{})   {}
func (l *testLogger) Error(format string, v ...interface{})  {}
func (l *testLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {
}

// fakeBus records published frames and can simulate send failures.
type fakeBus struct {
	frames []can.Frame
	err    error
}

func (b *fakeBus) Publish(frame can.Frame) error {
	if b.err != nil {
		return b.err
	}
	b.frames = append(b.frames, frame)
	return nil
}

func newTestSession(gen Generation) (*Session, *fakeBus) {
	codec, err := NewCodec(gen)
	if err != nil {
		panic(err)
	}
	bus := &fakeBus{}
	return NewSession(codec, bus, &testLogger{}), bus
}

func TestSession_ConnectOnFirstValidFrame(t *testing.T) {
	s, _ := newTestSession(Gen3)

	if s.State() != Disconnected {
		t.Fatalf("expected Disconnected, got %v", s.State())
	}

	msg := s.codec.EncodeSpeed(25.0)
	s.HandleFrame(toCANFrame(msg))

	if s.State() != Connected {
		t.Errorf("expected Connected after valid frame, got %v", s.State())
	}
	status := s.Status()
	if !status.Connected {
		t.Error("status should report connected")
	}
	if status.Speed != 25.0 {
		t.Errorf("expected speed 25.0, got %v", status.Speed)
	}
}

func TestSession_CorruptFrameNeverMutatesStatus(t *testing.T) {
	s, _ := newTestSession(Gen2)

	s.HandleFrame(toCANFrame(s.codec.EncodeSpeed(20.0)))
	before := s.Status()

	corrupt := s.codec.EncodeSpeed(90.0)
	corrupt.Data[corrupt.Length-1] ^= 0xFF
	s.HandleFrame(toCANFrame(corrupt))

	after := s.Status()
	if after != before {
		t.Errorf("corrupt frame mutated status: %+v -> %+v", before, after)
	}

	errs := s.Errors()
	if errs.RxErrors != 1 || errs.ChecksumErrors != 1 {
		t.Errorf("expected rx=1 checksum=1, got %+v", errs)
	}
}

func TestSession_LengthMismatchCounted(t *testing.T) {
	s, _ := newTestSession(Gen1)

	msg := s.codec.EncodeSpeed(20.0)
	msg.Length++
	s.HandleFrame(toCANFrame(msg))

	errs := s.Errors()
	if errs.LengthErrors != 1 {
		t.Errorf("expected length error counted, got %+v", errs)
	}
	if s.State() != Disconnected {
		t.Errorf("invalid frame must not connect the session, state=%v", s.State())
	}
}

func TestSession_OversizedFrameLengthDropped(t *testing.T) {
	s, _ := newTestSession(Gen3)

	// A frame reporting more bytes than CAN can carry must be dropped
	// like any other length fault.
	s.HandleFrame(can.Frame{ID: SpeedMsgID, Length: 12})

	errs := s.Errors()
	if errs.LengthErrors != 1 {
		t.Errorf("expected length error counted, got %+v", errs)
	}
	if s.State() != Disconnected {
		t.Errorf("oversized frame must not connect the session, state=%v", s.State())
	}
}

func TestSession_HeartbeatIntervalResync(t *testing.T) {
	s, _ := newTestSession(Gen1)

	hb := time.NewTicker(time.Hour)
	defer hb.Stop()

	if d := s.resyncHeartbeat(hb, time.Hour); d != DefaultHeartbeatInterval {
		t.Fatalf("expected re-arm to %v, got %v", DefaultHeartbeatInterval, d)
	}

	s.SetHeartbeatInterval(25 * time.Millisecond)
	if d := s.resyncHeartbeat(hb, DefaultHeartbeatInterval); d != 25*time.Millisecond {
		t.Errorf("expected updated interval picked up, got %v", d)
	}

	// Zero and negative intervals are ignored.
	s.SetHeartbeatInterval(0)
	if d := s.resyncHeartbeat(hb, 25*time.Millisecond); d != 25*time.Millisecond {
		t.Errorf("zero interval must not take effect, got %v", d)
	}
}

func TestSession_BatteryVoltageFromMotorFrame(t *testing.T) {
	s, _ := newTestSession(Gen2)

	msg := NewMessage(MotorMsgID, []byte{0x01, 0xF4, 42})
	s.HandleFrame(toCANFrame(msg))

	status := s.Status()
	if status.MotorPower != 500 {
		t.Errorf("motor power: got %d", status.MotorPower)
	}
	if status.BatteryVoltage != 42 {
		t.Errorf("battery voltage: got %d", status.BatteryVoltage)
	}
}

func TestSession_DegradedAfterLivenessWindow(t *testing.T) {
	s, _ := newTestSession(Gen5Smart)

	base := time.Now()
	s.now = func() time.Time { return base }
	s.HandleFrame(toCANFrame(s.codec.EncodeSpeed(18.0)))
	if s.State() != Connected {
		t.Fatalf("expected Connected, got %v", s.State())
	}

	// Advance past the generation's liveness window.
	s.now = func() time.Time { return base.Add(s.codec.LivenessWindow() + time.Millisecond) }
	s.checkLiveness()

	if s.State() != Degraded {
		t.Errorf("expected Degraded after silence, got %v", s.State())
	}
	if s.Status().Connected {
		t.Error("degraded session must not report connected")
	}

	// Next valid frame reconnects.
	s.HandleFrame(toCANFrame(s.codec.EncodeBattery(74)))
	if s.State() != Connected {
		t.Errorf("expected Connected after recovery frame, got %v", s.State())
	}
}

func TestSession_LivenessKeptByFreshFrames(t *testing.T) {
	s, _ := newTestSession(Gen1)

	base := time.Now()
	s.now = func() time.Time { return base }
	s.HandleFrame(toCANFrame(s.codec.EncodeSpeed(10.0)))

	s.now = func() time.Time { return base.Add(s.codec.LivenessWindow() / 2) }
	s.checkLiveness()

	if s.State() != Connected {
		t.Errorf("fresh session degraded early, state=%v", s.State())
	}
}

func TestSession_StatusFieldsPerKind(t *testing.T) {
	s, _ := newTestSession(Gen4)

	s.HandleFrame(toCANFrame(s.codec.EncodeSpeed(33.5)))
	s.HandleFrame(toCANFrame(s.codec.EncodeMotor(210)))
	s.HandleFrame(toCANFrame(s.codec.EncodeBattery(64)))
	s.HandleFrame(toCANFrame(s.codec.EncodeDisplay(2)))
	s.HandleFrame(toCANFrame(s.codec.EncodeDiagnostic(0x00A1)))

	status := s.Status()
	if status.Speed != 33.5 {
		t.Errorf("speed: got %v", status.Speed)
	}
	if status.MotorPower != 210 {
		t.Errorf("motor power: got %d", status.MotorPower)
	}
	if status.BatteryLevel != 64 {
		t.Errorf("battery level: got %d", status.BatteryLevel)
	}
	if status.AssistLevel != 2 {
		t.Errorf("assist level: got %d", status.AssistLevel)
	}
	if status.LastError != 0x00A1 {
		t.Errorf("last error: got 0x%04X", status.LastError)
	}
}

func TestSession_HeartbeatPublishes(t *testing.T) {
	s, bus := newTestSession(Gen3)

	if err := s.SendHeartbeat(); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	if err := s.SendHeartbeat(); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}

	if len(bus.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(bus.frames))
	}
	for i, frame := range bus.frames {
		if frame.ID != DisplayMsgID {
			t.Errorf("frame %d: expected display id, got 0x%03X", i, frame.ID)
		}
		if frame.Data[0] != heartbeatMarker {
			t.Errorf("frame %d: missing heartbeat marker", i)
		}
	}
	if bus.frames[0].Data[1] == bus.frames[1].Data[1] {
		t.Error("heartbeat counter did not advance")
	}
}

func TestSession_SendFailureCounted(t *testing.T) {
	s, bus := newTestSession(Gen2)
	bus.err = errors.New("bus down")

	if err := s.SendSpeed(12.0); err == nil {
		t.Error("expected send error to be returned")
	}
	if s.Errors().TxErrors != 1 {
		t.Errorf("expected TxErrors=1, got %+v", s.Errors())
	}
}

func TestSession_ClearErrors(t *testing.T) {
	s, bus := newTestSession(Gen1)
	bus.err = errors.New("bus down")
	_ = s.SendMotor(10)

	s.ClearErrors()
	if s.Errors() != (SessionErrors{}) {
		t.Errorf("expected zeroed counters, got %+v", s.Errors())
	}
}

func TestSession_OwnHeartbeatLoopbackIgnored(t *testing.T) {
	s, _ := newTestSession(Gen3)

	s.HandleFrame(toCANFrame(s.codec.EncodeDisplay(3)))
	s.HandleFrame(toCANFrame(s.codec.EncodeHeartbeat(9)))

	if got := s.Status().AssistLevel; got != 3 {
		t.Errorf("heartbeat loopback overwrote assist level: %d", got)
	}
}
