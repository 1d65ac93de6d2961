package canbus

import "time"

// Bosch drive controller CAN identifiers handled by this service.
const (
	SpeedMsgID      uint32 = 0x181
	MotorMsgID      uint32 = 0x182
	BatteryMsgID    uint32 = 0x183
	DisplayMsgID    uint32 = 0x184
	DiagnosticMsgID uint32 = 0x185
)

// heartbeatMarker distinguishes our presence frames from controller
// display frames that share the 0x184 identifier.
const heartbeatMarker byte = 0xAA

// Generation identifies the drive controller hardware family. Each
// generation has its own frame layout and liveness behaviour.
type Generation int

const (
	Gen1      Generation = 1
	Gen2      Generation = 2
	Gen3      Generation = 3
	Gen4      Generation = 4
	Gen5Smart Generation = 5
)

func (g Generation) Valid() bool {
	return g >= Gen1 && g <= Gen5Smart
}

func (g Generation) String() string {
	switch g {
	case Gen1:
		return "gen1"
	case Gen2:
		return "gen2"
	case Gen3:
		return "gen3"
	case Gen4:
		return "gen4"
	case Gen5Smart:
		return "gen5-smart"
	default:
		return "unknown"
	}
}

// Message is a single frame as exchanged with the drive controller.
// The byte at Data[Length-1] is always the checksum. Message is a value
// type; no ownership outlives the call that carries it.
type Message struct {
	ID        uint32
	Length    uint8
	Data      [8]byte
	Timestamp time.Time
}

// NewMessage builds a frame from an identifier and field payload,
// appending the checksum byte. Payloads longer than 7 bytes are
// truncated, which never happens with the layouts in this package.
func NewMessage(id uint32, payload []byte) Message {
	if len(payload) > 7 {
		payload = payload[:7]
	}
	var m Message
	m.ID = id
	m.Length = uint8(len(payload)) + 1
	copy(m.Data[:], payload)
	m.Data[len(payload)] = Checksum(id, payload)
	return m
}

// Payload returns the field bytes of the frame, without the trailing
// checksum byte. A length beyond the data array, as a malformed frame
// may report, is clamped rather than trusted.
func (m Message) Payload() []byte {
	n := int(m.Length)
	if n > len(m.Data) {
		n = len(m.Data)
	}
	if n < 1 {
		return nil
	}
	return m.Data[:n-1]
}

// Checksum computes the trailing checksum byte for a frame: the XOR of
// the two identifier bytes folded with a byte-sum of the payload,
// inverted. Identical on encode and decode.
func Checksum(id uint32, payload []byte) byte {
	s := byte(id) ^ byte(id>>8)
	for _, b := range payload {
		s += b
	}
	return ^s
}

// SystemStatus is the last known state of the drive controller as seen
// on the bus. Owned by the Session; callers get copies.
type SystemStatus struct {
	Connected      bool
	Speed          float32 // km/h
	MotorPower     uint16  // watts
	BatteryLevel   uint8
	BatteryVoltage uint8 // volts, Gen2 motor frames only
	AssistLevel    uint8
	AssistFlags    uint8 // Gen4/Gen5 display frames only
	LastMessage    time.Time
	LastError      uint16
}

// SessionState tracks bus liveness.
type SessionState int

const (
	Disconnected SessionState = iota
	Connected
	Degraded
)

func (s SessionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// SessionErrors accumulates protocol fault counters for the monitor to
// poll. Counters only grow until ClearErrors.
type SessionErrors struct {
	RxErrors       uint32
	LengthErrors   uint32
	ChecksumErrors uint32
	TxErrors       uint32
}
