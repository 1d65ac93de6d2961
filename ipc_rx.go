package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"tuning-service/canbus"
	"tuning-service/emulator"
)

type IPCRx struct {
	log     *LeveledLogger
	redis   *redis.Client
	emu     *emulator.SensorEmulator
	session *canbus.Session
	ctx     context.Context
	cancel  context.CancelFunc

	controlSubscription *redis.PubSub
}

func NewIPCRx(logger *LeveledLogger, redis *redis.Client, emu *emulator.SensorEmulator, session *canbus.Session) *IPCRx {
	ctx, cancel := context.WithCancel(context.Background())

	rx := &IPCRx{
		log:     logger,
		redis:   redis,
		emu:     emu,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}

	rx.controlSubscription = rx.redis.Subscribe(rx.ctx, "tuning:control")
	go rx.handleControlSubscription()

	return rx
}

func (rx *IPCRx) handleControlSubscription() {
	rx.log.Info("Starting control subscription handler")

	for {
		msg, err := rx.controlSubscription.Receive(rx.ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			// Check for closed client - panic to trigger systemd restart
			if err.Error() == "redis: client is closed" {
				rx.log.Error("Redis connection lost on control subscription - restarting service")
				panic("Redis disconnected")
			}
			rx.log.Error("Control subscription error: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			rx.log.Debug("Control message received: channel=%s, payload=%s", m.Channel, m.Payload)
			rx.dispatch(m.Payload)

		case *redis.Subscription:
			rx.log.Debug("Control subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

// dispatch parses a "command value" payload and applies it.
func (rx *IPCRx) dispatch(payload string) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return
	}
	command := fields[0]
	args := fields[1:]

	switch command {
	case "mode":
		if len(args) != 1 {
			rx.log.Warn("mode command needs a mode name")
			return
		}
		mode, err := parseOperatingMode(args[0])
		if err != nil {
			rx.log.Warn("Ignoring control message: %v", err)
			return
		}
		rx.emu.SetOperatingMode(mode)

	case "performance":
		if len(args) != 1 {
			rx.log.Warn("performance command needs a mode name")
			return
		}
		switch args[0] {
		case "normal":
			rx.emu.SetPerformanceMode(emulator.PerformanceNormal)
		case "reduced":
			rx.emu.SetPerformanceMode(emulator.PerformanceReduced)
		case "maximum":
			rx.emu.SetPerformanceMode(emulator.PerformanceMaximum)
		default:
			rx.log.Warn("Unknown performance mode %q", args[0])
		}

	case "speed-limit":
		if v, ok := rx.parseFloat(command, args); ok {
			rx.emu.SetSpeedLimit(v)
		}

	case "divider":
		if v, ok := rx.parseFloat(command, args); ok {
			rx.emu.SetFrequencyDivider(v)
		}

	case "smoothing":
		switch {
		case len(args) == 1 && (args[0] == "on" || args[0] == "off"):
			rx.emu.EnableSmoothing(args[0] == "on")
		default:
			// A numeric argument sets the window instead.
			if v, ok := rx.parseFloat(command, args); ok {
				rx.emu.SetSmoothingFactor(int(v))
			}
		}

	case "anti-alias":
		switch {
		case len(args) == 1 && (args[0] == "on" || args[0] == "off"):
			rx.emu.EnableAntiAlias(args[0] == "on")
		default:
			if v, ok := rx.parseFloat(command, args); ok {
				rx.emu.SetAntiAliasThreshold(v)
			}
		}

	case "adaptive":
		if on, ok := rx.parseOnOff(command, args); ok {
			rx.emu.EnableAdaptiveProcessing(on)
		}

	case "stealth":
		if on, ok := rx.parseOnOff(command, args); ok {
			if on {
				rx.emu.EnableStealthMode()
			} else {
				rx.emu.DisableStealthMode()
			}
		}

	case "tuning":
		if on, ok := rx.parseOnOff(command, args); ok {
			if on {
				rx.emu.EnableTuning()
			} else {
				rx.emu.DisableTuning()
			}
		}

	case "calibrate":
		rx.dispatchCalibrate(args)

	case "self-test":
		if err := rx.emu.RunSelfTest(); err != nil {
			rx.log.Error("Self-test failed: %v", err)
		}

	case "inject":
		if v, ok := rx.parseFloat(command, args); ok {
			rx.emu.InjectTestSignal(v)
		}

	case "clear-errors":
		rx.session.ClearErrors()
		rx.log.Info("Session error counters cleared")

	default:
		rx.log.Warn("Unknown control command %q", command)
	}
}

func (rx *IPCRx) dispatchCalibrate(args []string) {
	if len(args) == 0 {
		rx.log.Warn("calibrate command needs an argument")
		return
	}

	switch args[0] {
	case "circumference":
		if v, ok := rx.parseFloat("calibrate circumference", args[1:]); ok {
			rx.emu.CalibrateWheelCircumference(v)
		}
	case "pulses":
		if v, ok := rx.parseFloat("calibrate pulses", args[1:]); ok {
			rx.emu.CalibratePulseCount(int(v))
		}
	case "reset":
		rx.emu.ResetCalibration()
	default:
		rx.log.Warn("Unknown calibrate argument %q", args[0])
	}
}

func (rx *IPCRx) parseFloat(command string, args []string) (float32, bool) {
	if len(args) != 1 {
		rx.log.Warn("%s command needs a numeric value", command)
		return 0, false
	}
	v, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		rx.log.Warn("%s command got %q: %v", command, args[0], err)
		return 0, false
	}
	return float32(v), true
}

func (rx *IPCRx) parseOnOff(command string, args []string) (bool, bool) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		rx.log.Warn("%s command needs on or off", command)
		return false, false
	}
	return args[0] == "on", true
}

func (rx *IPCRx) Destroy() {
	if rx.cancel != nil {
		rx.cancel()
	}

	if rx.controlSubscription != nil {
		rx.controlSubscription.Close()
	}
}
