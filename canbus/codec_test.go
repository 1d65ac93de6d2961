package canbus

import (
	"testing"
)

func allGenerations(t *testing.T) []Codec {
	t.Helper()
	var codecs []Codec
	for gen := Gen1; gen <= Gen5Smart; gen++ {
		c, err := NewCodec(gen)
		if err != nil {
			t.Fatalf("NewCodec(%v): %v", gen, err)
		}
		codecs = append(codecs, c)
	}
	return codecs
}

func TestNewCodec_InvalidGeneration(t *testing.T) {
	for _, gen := range []Generation{0, 6, -1} {
		if _, err := NewCodec(gen); err == nil {
			t.Errorf("NewCodec(%d): expected error", gen)
		}
	}
}

func TestChecksum_Deterministic(t *testing.T) {
	a := Checksum(SpeedMsgID, []byte{0x10, 0x20})
	b := Checksum(SpeedMsgID, []byte{0x10, 0x20})
	if a != b {
		t.Errorf("checksum not deterministic: %02X vs %02X", a, b)
	}

	c := Checksum(MotorMsgID, []byte{0x10, 0x20})
	if a == c {
		t.Error("checksum ignores identifier")
	}

	d := Checksum(SpeedMsgID, []byte{0x10, 0x21})
	if a == d {
		t.Error("checksum ignores payload")
	}
}

func TestSpeedRoundTrip_AllGenerations(t *testing.T) {
	speeds := []float32{0, 5.5, 25.0, 45.2, 99.9}

	for _, c := range allGenerations(t) {
		res := float32(0.1)
		if c.Generation() >= Gen3 {
			res = 0.01
		}

		for _, speed := range speeds {
			msg := c.EncodeSpeed(speed)
			if err := ValidateMessage(c, msg); err != nil {
				t.Fatalf("%v: encoded speed frame invalid: %v", c.Generation(), err)
			}

			upd, handled := c.Decode(msg)
			if !handled {
				t.Fatalf("%v: speed frame not handled", c.Generation())
			}
			if upd.Kind != KindSpeed {
				t.Fatalf("%v: expected KindSpeed, got %v", c.Generation(), upd.Kind)
			}

			want := float32(quantizeSpeed(speed, res)) * res
			if upd.Speed != want {
				t.Errorf("%v: speed %v round-tripped to %v (want %v)",
					c.Generation(), speed, upd.Speed, want)
			}
		}
	}
}

func TestFieldRoundTrip_AllGenerations(t *testing.T) {
	for _, c := range allGenerations(t) {
		tests := []struct {
			name string
			msg  Message
			want Update
		}{
			{"motor", c.EncodeMotor(500), Update{Kind: KindMotor, MotorPower: 500}},
			{"battery", c.EncodeBattery(87), Update{Kind: KindBattery, BatteryLevel: 87}},
			{"display", c.EncodeDisplay(3), Update{Kind: KindDisplay, AssistLevel: 3}},
			{"diagnostic", c.EncodeDiagnostic(0x1234), Update{Kind: KindDiagnostic, ErrorCode: 0x1234}},
			{"heartbeat", c.EncodeHeartbeat(42), Update{Kind: KindHeartbeat, Counter: 42}},
		}

		// Gen4 and Gen5 display frames carry the assist flags byte.
		if c.Generation() >= Gen4 {
			tests[2].want.AssistFlags = assistActiveFlag | assistBoostFlag
		}

		for _, tt := range tests {
			if err := ValidateMessage(c, tt.msg); err != nil {
				t.Errorf("%v/%s: encoded frame invalid: %v", c.Generation(), tt.name, err)
				continue
			}

			upd, handled := c.Decode(tt.msg)
			if !handled {
				t.Errorf("%v/%s: frame not handled", c.Generation(), tt.name)
				continue
			}
			if upd != tt.want {
				t.Errorf("%v/%s: decoded %+v, want %+v", c.Generation(), tt.name, upd, tt.want)
			}
		}
	}
}

func TestGen1Motor_FourWattUnits(t *testing.T) {
	c, _ := NewCodec(Gen1)

	msg := c.EncodeMotor(500)
	if msg.Data[0] != 125 {
		t.Errorf("expected wire value 125, got %d", msg.Data[0])
	}
	if upd, _ := c.Decode(msg); upd.MotorPower != 500 {
		t.Errorf("500 W round-tripped to %d", upd.MotorPower)
	}

	// The single byte saturates at 255 units.
	upd, _ := c.Decode(c.EncodeMotor(2000))
	if upd.MotorPower != 1020 {
		t.Errorf("expected saturation at 1020 W, got %d", upd.MotorPower)
	}
}

func TestGen2Motor_WattsAndVoltage(t *testing.T) {
	c, _ := NewCodec(Gen2)

	// 500 W big-endian plus a 42 V battery readout, as the controller
	// sends it.
	msg := NewMessage(MotorMsgID, []byte{0x01, 0xF4, 42})
	if err := ValidateMessage(c, msg); err != nil {
		t.Fatalf("frame invalid: %v", err)
	}

	upd, handled := c.Decode(msg)
	if !handled {
		t.Fatal("motor frame not handled")
	}
	if upd.MotorPower != 500 {
		t.Errorf("expected 500 W, got %d", upd.MotorPower)
	}
	if upd.BatteryVoltage != 42 {
		t.Errorf("expected 42 V, got %d", upd.BatteryVoltage)
	}

	// Our own encoder uses the same byte order.
	out := c.EncodeMotor(500)
	if out.Data[0] != 0x01 || out.Data[1] != 0xF4 {
		t.Errorf("expected big-endian 01 F4, got %02X %02X", out.Data[0], out.Data[1])
	}
}

func TestGen4Display_AssistFlags(t *testing.T) {
	c, _ := NewCodec(Gen4)

	tests := []struct {
		assist uint8
		flags  uint8
	}{
		{0, 0},
		{1, assistActiveFlag},
		{3, assistActiveFlag | assistBoostFlag},
	}

	for _, tt := range tests {
		upd, handled := c.Decode(c.EncodeDisplay(tt.assist))
		if !handled {
			t.Fatalf("assist %d: display frame not handled", tt.assist)
		}
		if upd.AssistLevel != tt.assist || upd.AssistFlags != tt.flags {
			t.Errorf("assist %d: decoded level=%d flags=%02X, want flags %02X",
				tt.assist, upd.AssistLevel, upd.AssistFlags, tt.flags)
		}
	}
}

func TestGen5Speed_SequenceAdvances(t *testing.T) {
	c, _ := NewCodec(Gen5Smart)

	a := c.EncodeSpeed(20)
	b := c.EncodeSpeed(20)

	if a.Data == b.Data {
		t.Fatal("consecutive speed frames are byte-identical")
	}
	for _, msg := range []Message{a, b} {
		if err := ValidateMessage(c, msg); err != nil {
			t.Fatalf("sequence-stamped frame invalid: %v", err)
		}
	}

	ua, _ := c.Decode(a)
	ub, _ := c.Decode(b)
	if ub.Counter != (ua.Counter+1)&0x0F {
		t.Errorf("sequence nibble %d -> %d, expected increment mod 16", ua.Counter, ub.Counter)
	}
}

func TestMessagePayload_OversizedLengthClamped(t *testing.T) {
	msg := Message{ID: SpeedMsgID, Length: 12}
	if got := len(msg.Payload()); got != 7 {
		t.Errorf("expected payload clamped to 7 bytes, got %d", got)
	}
}

func TestValidateMessage_FlippedChecksum(t *testing.T) {
	for _, c := range allGenerations(t) {
		msg := c.EncodeSpeed(25.0)
		msg.Data[msg.Length-1] ^= 0xFF

		if err := ValidateMessage(c, msg); err != ErrChecksum {
			t.Errorf("%v: expected ErrChecksum, got %v", c.Generation(), err)
		}
	}
}

func TestValidateMessage_CorruptedPayload(t *testing.T) {
	for _, c := range allGenerations(t) {
		msg := c.EncodeSpeed(25.0)
		msg.Data[0] ^= 0x01

		if err := ValidateMessage(c, msg); err != ErrChecksum {
			t.Errorf("%v: expected ErrChecksum, got %v", c.Generation(), err)
		}
	}
}

func TestValidateMessage_WrongLength(t *testing.T) {
	for _, c := range allGenerations(t) {
		msg := c.EncodeSpeed(25.0)
		msg.Length++

		if err := ValidateMessage(c, msg); err != ErrLength {
			t.Errorf("%v: expected ErrLength, got %v", c.Generation(), err)
		}
	}
}

func TestValidateMessage_UnknownIdentifier(t *testing.T) {
	c, _ := NewCodec(Gen1)
	msg := NewMessage(0x7E0, []byte{0x01, 0x02})

	// Unknown identifiers are not validated here; Decode reports them
	// as not handled and the caller drops them without side effects.
	if err := ValidateMessage(c, msg); err != nil {
		t.Errorf("unknown identifier should pass validation, got %v", err)
	}
	if _, handled := c.Decode(msg); handled {
		t.Error("unknown identifier should not be handled")
	}
}

func TestQuantizeSpeed_Bounds(t *testing.T) {
	if quantizeSpeed(-5, 0.1) != 0 {
		t.Error("negative speed should quantize to 0")
	}
	if quantizeSpeed(0, 0.01) != 0 {
		t.Error("zero speed should quantize to 0")
	}
	if quantizeSpeed(1e9, 0.01) != 65535 {
		t.Error("oversized speed should saturate")
	}
}

func TestLivenessWindows(t *testing.T) {
	var last int64
	for _, c := range allGenerations(t) {
		w := c.LivenessWindow()
		if w <= 0 {
			t.Errorf("%v: non-positive liveness window", c.Generation())
		}
		if last != 0 && w.Nanoseconds() > last {
			t.Errorf("%v: liveness window grew with generation", c.Generation())
		}
		last = w.Nanoseconds()
	}
}
