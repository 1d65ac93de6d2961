package canbus

import (
	"encoding/binary"
	"sync"
	"time"
)

// The five generations share the identifier space 0x181..0x185 but
// differ in byte order, field widths, resolutions and the extra
// bookkeeping the newer controllers expect: Gen1 packs motor power into
// one byte of 4 W units, Gen2 widens it to uint16 watts and appends a
// battery voltage readout, Gen4 adds an assist flags byte to display
// frames, Gen5 stamps speed frames with a rolling sequence nibble.
// Each codec is a standalone decode/encode pair; adding a generation
// means adding a type here and a case to NewCodec.

// Assist line flags carried by Gen4 and Gen5 display frames.
const (
	assistActiveFlag byte = 0x01
	assistBoostFlag  byte = 0x02
)

func assistFlagsFor(assist uint8) byte {
	var f byte
	if assist > 0 {
		f |= assistActiveFlag
	}
	if assist >= 3 {
		f |= assistBoostFlag
	}
	return f
}

// gen1MotorUnit is the wire resolution of the Gen1 single-byte motor
// power field.
const gen1MotorUnit uint16 = 4 // watts

// displayUpdate decodes the legacy display/heartbeat layout: byte 0 is
// either the heartbeat marker or the assist level, byte 1 a counter.
func displayUpdate(payload []byte) Update {
	if payload[0] == heartbeatMarker {
		return Update{Kind: KindHeartbeat, Counter: payload[1]}
	}
	return Update{Kind: KindDisplay, AssistLevel: payload[0]}
}

// flaggedDisplayUpdate decodes the Gen4/Gen5 display layout, which
// carries an assist flags byte after the level.
func flaggedDisplayUpdate(payload []byte) Update {
	if payload[0] == heartbeatMarker {
		return Update{Kind: KindHeartbeat, Counter: payload[1]}
	}
	return Update{Kind: KindDisplay, AssistLevel: payload[0], AssistFlags: payload[1]}
}

// --- Generation 1: big-endian, 0.1 km/h, 4 W motor byte ---

type gen1Codec struct{}

func (gen1Codec) Generation() Generation        { return Gen1 }
func (gen1Codec) LivenessWindow() time.Duration { return time.Second }

func (gen1Codec) ExpectedLength(id uint32) (uint8, bool) {
	switch id {
	case SpeedMsgID:
		return 3, true
	case MotorMsgID, BatteryMsgID:
		return 2, true
	case DisplayMsgID, DiagnosticMsgID:
		return 3, true
	}
	return 0, false
}

func (gen1Codec) Decode(msg Message) (Update, bool) {
	p := msg.Payload()
	switch msg.ID {
	case SpeedMsgID:
		return Update{Kind: KindSpeed, Speed: float32(binary.BigEndian.Uint16(p[0:2])) * 0.1}, true
	case MotorMsgID:
		return Update{Kind: KindMotor, MotorPower: uint16(p[0]) * gen1MotorUnit}, true
	case BatteryMsgID:
		return Update{Kind: KindBattery, BatteryLevel: p[0]}, true
	case DisplayMsgID:
		return displayUpdate(p), true
	case DiagnosticMsgID:
		return Update{Kind: KindDiagnostic, ErrorCode: binary.BigEndian.Uint16(p[0:2])}, true
	}
	return Update{}, false
}

func (gen1Codec) EncodeSpeed(speedKmh float32) Message {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, quantizeSpeed(speedKmh, 0.1))
	return NewMessage(SpeedMsgID, p)
}

func (gen1Codec) EncodeMotor(powerW uint16) Message {
	raw := powerW / gen1MotorUnit
	if raw > 255 {
		raw = 255
	}
	return NewMessage(MotorMsgID, []byte{byte(raw)})
}

func (gen1Codec) EncodeBattery(level uint8) Message {
	return NewMessage(BatteryMsgID, []byte{level})
}

func (gen1Codec) EncodeDisplay(assist uint8) Message {
	return NewMessage(DisplayMsgID, []byte{assist, 0})
}

func (gen1Codec) EncodeDiagnostic(code uint16) Message {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, code)
	return NewMessage(DiagnosticMsgID, p)
}

func (gen1Codec) EncodeHeartbeat(counter uint8) Message {
	return NewMessage(DisplayMsgID, []byte{heartbeatMarker, counter})
}

// --- Generation 2: gen1 byte order, uint16 watts + battery voltage ---

type gen2Codec struct{}

func (gen2Codec) Generation() Generation        { return Gen2 }
func (gen2Codec) LivenessWindow() time.Duration { return time.Second }

func (gen2Codec) ExpectedLength(id uint32) (uint8, bool) {
	switch id {
	case SpeedMsgID:
		return 5, true
	case MotorMsgID:
		return 4, true
	case BatteryMsgID, DisplayMsgID, DiagnosticMsgID:
		return 3, true
	}
	return 0, false
}

func (gen2Codec) Decode(msg Message) (Update, bool) {
	p := msg.Payload()
	switch msg.ID {
	case SpeedMsgID:
		// Bytes 2-3 echo motor state; the speed field is authoritative.
		return Update{Kind: KindSpeed, Speed: float32(binary.BigEndian.Uint16(p[0:2])) * 0.1}, true
	case MotorMsgID:
		return Update{
			Kind:           KindMotor,
			MotorPower:     binary.BigEndian.Uint16(p[0:2]),
			BatteryVoltage: p[2],
		}, true
	case BatteryMsgID:
		return Update{Kind: KindBattery, BatteryLevel: p[0]}, true
	case DisplayMsgID:
		return displayUpdate(p), true
	case DiagnosticMsgID:
		return Update{Kind: KindDiagnostic, ErrorCode: binary.BigEndian.Uint16(p[0:2])}, true
	}
	return Update{}, false
}

func (gen2Codec) EncodeSpeed(speedKmh float32) Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint16(p[0:2], quantizeSpeed(speedKmh, 0.1))
	return NewMessage(SpeedMsgID, p)
}

// EncodeMotor leaves the voltage byte zero: this participant reports
// power, the battery readout belongs to the controller.
func (gen2Codec) EncodeMotor(powerW uint16) Message {
	p := make([]byte, 3)
	binary.BigEndian.PutUint16(p[0:2], powerW)
	return NewMessage(MotorMsgID, p)
}

func (gen2Codec) EncodeBattery(level uint8) Message {
	return NewMessage(BatteryMsgID, []byte{level, 0})
}

func (gen2Codec) EncodeDisplay(assist uint8) Message {
	return NewMessage(DisplayMsgID, []byte{assist, 0})
}

func (gen2Codec) EncodeDiagnostic(code uint16) Message {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, code)
	return NewMessage(DiagnosticMsgID, p)
}

func (gen2Codec) EncodeHeartbeat(counter uint8) Message {
	return NewMessage(DisplayMsgID, []byte{heartbeatMarker, counter})
}

// --- Generation 3: little-endian, 0.01 km/h, uint16 watts ---

type gen3Codec struct{}

func (gen3Codec) Generation() Generation        { return Gen3 }
func (gen3Codec) LivenessWindow() time.Duration { return 500 * time.Millisecond }

func (gen3Codec) ExpectedLength(id uint32) (uint8, bool) {
	switch id {
	case SpeedMsgID:
		return 4, true
	case MotorMsgID:
		return 3, true
	case BatteryMsgID:
		return 2, true
	case DisplayMsgID, DiagnosticMsgID:
		return 3, true
	}
	return 0, false
}

func (gen3Codec) Decode(msg Message) (Update, bool) {
	p := msg.Payload()
	switch msg.ID {
	case SpeedMsgID:
		return Update{Kind: KindSpeed, Speed: float32(binary.LittleEndian.Uint16(p[0:2])) * 0.01}, true
	case MotorMsgID:
		return Update{Kind: KindMotor, MotorPower: binary.LittleEndian.Uint16(p[0:2])}, true
	case BatteryMsgID:
		return Update{Kind: KindBattery, BatteryLevel: p[0]}, true
	case DisplayMsgID:
		return displayUpdate(p), true
	case DiagnosticMsgID:
		return Update{Kind: KindDiagnostic, ErrorCode: binary.LittleEndian.Uint16(p[0:2])}, true
	}
	return Update{}, false
}

func (gen3Codec) EncodeSpeed(speedKmh float32) Message {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p[0:2], quantizeSpeed(speedKmh, 0.01))
	return NewMessage(SpeedMsgID, p)
}

func (gen3Codec) EncodeMotor(powerW uint16) Message {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, powerW)
	return NewMessage(MotorMsgID, p)
}

func (gen3Codec) EncodeBattery(level uint8) Message {
	return NewMessage(BatteryMsgID, []byte{level})
}

func (gen3Codec) EncodeDisplay(assist uint8) Message {
	return NewMessage(DisplayMsgID, []byte{assist, 0})
}

func (gen3Codec) EncodeDiagnostic(code uint16) Message {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, code)
	return NewMessage(DiagnosticMsgID, p)
}

func (gen3Codec) EncodeHeartbeat(counter uint8) Message {
	return NewMessage(DisplayMsgID, []byte{heartbeatMarker, counter})
}

// --- Generation 4: gen3 byte order plus assist flags byte ---

type gen4Codec struct{}

func (gen4Codec) Generation() Generation        { return Gen4 }
func (gen4Codec) LivenessWindow() time.Duration { return 500 * time.Millisecond }

func (gen4Codec) ExpectedLength(id uint32) (uint8, bool) {
	switch id {
	case SpeedMsgID:
		return 5, true
	case MotorMsgID, BatteryMsgID:
		return 3, true
	case DisplayMsgID, DiagnosticMsgID:
		return 4, true
	}
	return 0, false
}

func (gen4Codec) Decode(msg Message) (Update, bool) {
	p := msg.Payload()
	switch msg.ID {
	case SpeedMsgID:
		return Update{Kind: KindSpeed, Speed: float32(binary.LittleEndian.Uint16(p[0:2])) * 0.01}, true
	case MotorMsgID:
		return Update{Kind: KindMotor, MotorPower: binary.LittleEndian.Uint16(p[0:2])}, true
	case BatteryMsgID:
		return Update{Kind: KindBattery, BatteryLevel: p[0]}, true
	case DisplayMsgID:
		return flaggedDisplayUpdate(p), true
	case DiagnosticMsgID:
		return Update{Kind: KindDiagnostic, ErrorCode: binary.LittleEndian.Uint16(p[0:2])}, true
	}
	return Update{}, false
}

func (gen4Codec) EncodeSpeed(speedKmh float32) Message {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:2], quantizeSpeed(speedKmh, 0.01))
	return NewMessage(SpeedMsgID, p)
}

func (gen4Codec) EncodeMotor(powerW uint16) Message {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, powerW)
	return NewMessage(MotorMsgID, p)
}

func (gen4Codec) EncodeBattery(level uint8) Message {
	return NewMessage(BatteryMsgID, []byte{level, 0})
}

func (gen4Codec) EncodeDisplay(assist uint8) Message {
	return NewMessage(DisplayMsgID, []byte{assist, assistFlagsFor(assist), 0})
}

func (gen4Codec) EncodeDiagnostic(code uint16) Message {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p[0:2], code)
	return NewMessage(DiagnosticMsgID, p)
}

func (gen4Codec) EncodeHeartbeat(counter uint8) Message {
	return NewMessage(DisplayMsgID, []byte{heartbeatMarker, counter, 0})
}

// --- Generation 5 "Smart": little-endian with a sequence nibble ---

// gen5Codec carries the rolling sequence nibble the Smart controllers
// expect in speed frames, so it is stateful and shared via pointer.
type gen5Codec struct {
	mu  sync.Mutex
	seq uint8
}

func (c *gen5Codec) nextSeq() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = (c.seq + 1) & 0x0F
	return c.seq
}

func (c *gen5Codec) Generation() Generation        { return Gen5Smart }
func (c *gen5Codec) LivenessWindow() time.Duration { return 250 * time.Millisecond }

func (c *gen5Codec) ExpectedLength(id uint32) (uint8, bool) {
	switch id {
	case SpeedMsgID:
		return 6, true
	case MotorMsgID, BatteryMsgID, DisplayMsgID, DiagnosticMsgID:
		return 4, true
	}
	return 0, false
}

func (c *gen5Codec) Decode(msg Message) (Update, bool) {
	p := msg.Payload()
	switch msg.ID {
	case SpeedMsgID:
		return Update{
			Kind:        KindSpeed,
			Speed:       float32(binary.LittleEndian.Uint16(p[0:2])) * 0.01,
			Counter:     p[2] & 0x0F,
			AssistFlags: p[3],
		}, true
	case MotorMsgID:
		return Update{Kind: KindMotor, MotorPower: binary.LittleEndian.Uint16(p[0:2])}, true
	case BatteryMsgID:
		return Update{Kind: KindBattery, BatteryLevel: p[0]}, true
	case DisplayMsgID:
		return flaggedDisplayUpdate(p), true
	case DiagnosticMsgID:
		return Update{Kind: KindDiagnostic, ErrorCode: binary.LittleEndian.Uint16(p[0:2])}, true
	}
	return Update{}, false
}

func (c *gen5Codec) EncodeSpeed(speedKmh float32) Message {
	p := make([]byte, 5)
	binary.LittleEndian.PutUint16(p[0:2], quantizeSpeed(speedKmh, 0.01))
	p[2] = c.nextSeq()
	return NewMessage(SpeedMsgID, p)
}

func (c *gen5Codec) EncodeMotor(powerW uint16) Message {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p[0:2], powerW)
	return NewMessage(MotorMsgID, p)
}

func (c *gen5Codec) EncodeBattery(level uint8) Message {
	return NewMessage(BatteryMsgID, []byte{level, 0, 0})
}

func (c *gen5Codec) EncodeDisplay(assist uint8) Message {
	return NewMessage(DisplayMsgID, []byte{assist, assistFlagsFor(assist), 0})
}

func (c *gen5Codec) EncodeDiagnostic(code uint16) Message {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p[0:2], code)
	return NewMessage(DiagnosticMsgID, p)
}

func (c *gen5Codec) EncodeHeartbeat(counter uint8) Message {
	return NewMessage(DisplayMsgID, []byte{heartbeatMarker, counter, 0})
}
