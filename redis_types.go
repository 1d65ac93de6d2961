package main

// Redis message types for emulator and bus status updates.
type RedisEmulatorStatus struct {
	Mode          string
	Performance   string
	TuningActive  bool
	StealthActive bool
	SpeedLimit    float32 // km/h
	Divider       float32
	InputSpeed    float32 // km/h
	OutputSpeed   float32 // km/h
	SignalValid   bool
}

type RedisSignalStats struct {
	TotalPulses      uint32
	ValidPulses      uint32
	DroppedPulses    uint32
	AverageFrequency float32 // Hz
	MaxSpeed         float32 // km/h
	SignalQuality    uint32  // 0..100
}

type RedisBusStatus struct {
	State          string
	Speed          float32 // km/h, as reported by the controller
	MotorPower     uint16  // watts
	BatteryLevel   uint8
	BatteryVoltage uint8
	AssistLevel    uint8
	LastError      uint16
}

type RedisSessionErrors struct {
	RxErrors       uint32
	LengthErrors   uint32
	ChecksumErrors uint32
	TxErrors       uint32
}
