package canbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"
)

var (
	ErrLength   = errors.New("canbus: payload length mismatch")
	ErrChecksum = errors.New("canbus: checksum mismatch")
)

// MessageKind labels a decoded frame.
type MessageKind int

const (
	KindNone MessageKind = iota
	KindSpeed
	KindMotor
	KindBattery
	KindDisplay
	KindDiagnostic
	KindHeartbeat
)

// Update carries the fields extracted from one validated frame. Only
// the fields matching Kind are meaningful; BatteryVoltage rides on
// Gen2 motor frames, AssistFlags on Gen4/Gen5 display frames and Gen5
// speed frames, Counter on heartbeats and Gen5 speed frames.
type Update struct {
	Kind           MessageKind
	Speed          float32 // km/h
	MotorPower     uint16  // watts
	BatteryLevel   uint8
	BatteryVoltage uint8 // volts
	AssistLevel    uint8
	AssistFlags    uint8
	ErrorCode      uint16
	Counter        uint8
}

// Codec is one generation's frame layout. Decoders return handled=false
// for identifiers outside the generation's map, which callers treat as
// non-fatal. Encoders are pure builders.
type Codec interface {
	Generation() Generation

	Decode(msg Message) (Update, bool)

	EncodeSpeed(speedKmh float32) Message
	EncodeMotor(powerW uint16) Message
	EncodeBattery(level uint8) Message
	EncodeDisplay(assist uint8) Message
	EncodeDiagnostic(code uint16) Message
	EncodeHeartbeat(counter uint8) Message

	// ExpectedLength returns the total frame length (checksum included)
	// for a known identifier.
	ExpectedLength(id uint32) (uint8, bool)

	// LivenessWindow is the longest silence tolerated before the
	// session degrades.
	LivenessWindow() time.Duration
}

// NewCodec selects the codec for a generation. The generation is fixed
// at configuration time; an invalid value fails fast.
func NewCodec(gen Generation) (Codec, error) {
	switch gen {
	case Gen1:
		return gen1Codec{}, nil
	case Gen2:
		return gen2Codec{}, nil
	case Gen3:
		return gen3Codec{}, nil
	case Gen4:
		return gen4Codec{}, nil
	case Gen5Smart:
		return &gen5Codec{}, nil
	default:
		return nil, fmt.Errorf("canbus: unsupported generation %d", gen)
	}
}

// ValidateMessage checks frame length against the codec layout and the
// trailing checksum byte. Unknown identifiers pass validation; Decode
// reports them as not handled.
func ValidateMessage(c Codec, msg Message) error {
	want, known := c.ExpectedLength(msg.ID)
	if !known {
		return nil
	}
	if msg.Length != want || msg.Length < 2 || msg.Length > 8 {
		return ErrLength
	}
	payload := msg.Data[:msg.Length-1]
	if msg.Data[msg.Length-1] != Checksum(msg.ID, payload) {
		return ErrChecksum
	}
	return nil
}

// quantizeSpeed converts km/h to raw wire units of the given
// resolution, clamped to the representable range.
func quantizeSpeed(speedKmh, resolution float32) uint16 {
	if math32.IsNaN(speedKmh) || speedKmh <= 0 {
		return 0
	}
	raw := speedKmh/resolution + 0.5
	if raw >= 65535 {
		return 65535
	}
	return uint16(raw)
}
