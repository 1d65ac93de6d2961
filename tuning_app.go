package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brutella/can"
	"github.com/go-redis/redis/v8"

	"tuning-service/canbus"
	"tuning-service/emulator"
)

const (
	// statusPushPeriod paces bus telemetry into the emulator and
	// status hashes into Redis.
	statusPushPeriod = 50 * time.Millisecond
	// statsPushEvery spaces the slower-moving stats hash in units of
	// status pushes.
	statsPushEvery = 20
)

type TuningApp struct {
	log     *LeveledLogger
	redis   *redis.Client
	ipcRx   *IPCRx
	ipcTx   *IPCTx
	emu     *emulator.SensorEmulator
	session *canbus.Session
	bus     *can.Bus
	output  *emulator.SysfsPulseOutput // nil with bench IO
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	lastOutputSpeed float32
	lastBusState    canbus.SessionState
}

// writeDefaultRedisState writes power-on values so readers never see a
// stale hash from a previous run.
func (app *TuningApp) writeDefaultRedisState(opts *Options) {
	app.mu.Lock()
	defer app.mu.Unlock()

	status := RedisEmulatorStatus{
		Mode:          opts.Sensor.DefaultMode.String(),
		Performance:   emulator.PerformanceNormal.String(),
		TuningActive:  opts.Sensor.DefaultMode != emulator.ModeDisabled,
		StealthActive: opts.Sensor.DefaultMode == emulator.ModeStealth,
		SpeedLimit:    opts.Sensor.MaxSpeedLimit,
		Divider:       1.0,
	}
	if err := app.ipcTx.SendEmulatorStatus(status); err != nil {
		app.log.Error("Failed to send default emulator status: %v", err)
	}

	if err := app.ipcTx.SendSignalStats(RedisSignalStats{SignalQuality: 100}); err != nil {
		app.log.Error("Failed to send default signal stats: %v", err)
	}

	if err := app.ipcTx.SendBusStatus(RedisBusStatus{State: canbus.Disconnected.String()}); err != nil {
		app.log.Error("Failed to send default bus status: %v", err)
	}

	if err := app.ipcTx.SendSessionErrors(RedisSessionErrors{}); err != nil {
		app.log.Error("Failed to send default session errors: %v", err)
	}

	app.log.Info("Default Redis state written")
}

func NewTuningApp(opts *Options) (*TuningApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &TuningApp{
		log:    NewLeveledLogger(log.New(log.Writer(), fmt.Sprintf("%s: ", ProjectName), log.LstdFlags), opts.LogLevel),
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize Redis client with timeouts
	app.redis = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.RedisServerAddr, opts.RedisServerPort),
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()

	app.log.Info("Connecting to Redis at %s:%d...", opts.RedisServerAddr, opts.RedisServerPort)

	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}
	app.log.Info("Successfully connected to Redis")

	app.ipcTx = NewIPCTx(app.log, app.redis)
	app.writeDefaultRedisState(opts)

	go app.redisHealthCheck()

	codec, err := canbus.NewCodec(opts.Generation)
	if err != nil {
		app.Destroy()
		return nil, err
	}
	app.log.Info("Protocol codec initialized: %s", opts.Generation)

	bus, err := can.NewBusForInterfaceWithName(opts.CANDevice)
	if err != nil {
		app.Destroy()
		return nil, fmt.Errorf("failed to initialize CAN bus: %v", err)
	}
	app.bus = bus

	app.session = canbus.NewSession(codec, bus, app.log)

	input, output, err := app.buildPulseIO(opts)
	if err != nil {
		app.Destroy()
		return nil, err
	}

	app.emu = emulator.New(opts.Sensor, input, output, app.log)
	if err := app.emu.Begin(); err != nil {
		app.Destroy()
		return nil, err
	}
	app.emu.AdjustForGeneration(int(opts.Generation))
	app.log.Info("Sensor emulator initialized")

	bus.Subscribe(&frameHandler{app: app})

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			app.log.Error("CAN bus publish error: %v", err)
		}
	}()

	go app.session.Run(app.ctx)
	go app.emu.Run(app.ctx, opts.CyclePeriod)
	go app.statusLoop()

	app.ipcRx = NewIPCRx(app.log, app.redis, app.emu, app.session)
	app.log.Info("IPC RX component initialized")

	return app, nil
}

// buildPulseIO selects GPIO or in-memory pulse lines.
func (app *TuningApp) buildPulseIO(opts *Options) (emulator.PulseInput, emulator.PulseOutput, error) {
	if opts.BenchIO {
		app.log.Info("Using bench pulse IO")
		return emulator.NewBenchPulseInput(), emulator.NewBenchPulseOutput(), nil
	}

	output, err := emulator.NewSysfsPulseOutput(opts.Sensor.OutputPin)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open output pin %d: %v", opts.Sensor.OutputPin, err)
	}
	app.output = output
	return emulator.NewSysfsPulseInput(opts.Sensor.InputPin), output, nil
}

// Frame handler for CAN messages
type frameHandler struct {
	app *TuningApp
}

func (h *frameHandler) Handle(frame can.Frame) {
	h.app.session.HandleFrame(frame)
}

// statusLoop feeds bus telemetry into the emulator and pushes the
// status hashes to Redis.
func (app *TuningApp) statusLoop() {
	ticker := time.NewTicker(statusPushPeriod)
	defer ticker.Stop()

	statsCountdown := statsPushEvery
	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.pushStatus()

			statsCountdown--
			if statsCountdown <= 0 {
				statsCountdown = statsPushEvery
				app.pushStats()
			}
		}
	}
}

func (app *TuningApp) pushStatus() {
	app.mu.Lock()
	defer app.mu.Unlock()

	busStatus := app.session.Status()
	app.emu.ObserveBusTelemetry(busStatus.Speed, busStatus.Connected)

	// Only rewrite the emulator hash when the output moved.
	outputSpeed := app.emu.OutputSpeed()
	if outputSpeed != app.lastOutputSpeed {
		status := RedisEmulatorStatus{
			Mode:          app.emu.OperatingMode().String(),
			Performance:   app.emu.PerformanceMode().String(),
			TuningActive:  app.emu.TuningActive(),
			StealthActive: app.emu.StealthActive(),
			SpeedLimit:    app.emu.SpeedLimit(),
			Divider:       app.emu.FrequencyDivider(),
			InputSpeed:    app.emu.InputSpeed(),
			OutputSpeed:   outputSpeed,
			SignalValid:   app.emu.SignalValid(),
		}
		if err := app.ipcTx.SendEmulatorStatus(status); err != nil {
			app.log.Error("Failed to send emulator status: %v", err)
		} else {
			app.lastOutputSpeed = outputSpeed
		}
	}

	state := app.session.State()
	if state != app.lastBusState {
		app.log.Info("Bus session state: %s", state)
	}
	app.lastBusState = state

	if err := app.ipcTx.SendBusStatus(RedisBusStatus{
		State:          state.String(),
		Speed:          busStatus.Speed,
		MotorPower:     busStatus.MotorPower,
		BatteryLevel:   busStatus.BatteryLevel,
		BatteryVoltage: busStatus.BatteryVoltage,
		AssistLevel:    busStatus.AssistLevel,
		LastError:      busStatus.LastError,
	}); err != nil {
		app.log.Error("Failed to send bus status: %v", err)
	}
}

func (app *TuningApp) pushStats() {
	stats := app.emu.Stats()
	if err := app.ipcTx.SendSignalStats(RedisSignalStats{
		TotalPulses:      stats.TotalPulses,
		ValidPulses:      stats.ValidPulses,
		DroppedPulses:    stats.DroppedPulses,
		AverageFrequency: stats.AverageFrequency,
		MaxSpeed:         stats.MaxSpeed,
		SignalQuality:    stats.SignalQuality,
	}); err != nil {
		app.log.Error("Failed to send signal stats: %v", err)
	}

	errs := app.session.Errors()
	if err := app.ipcTx.SendSessionErrors(RedisSessionErrors{
		RxErrors:       errs.RxErrors,
		LengthErrors:   errs.LengthErrors,
		ChecksumErrors: errs.ChecksumErrors,
		TxErrors:       errs.TxErrors,
	}); err != nil {
		app.log.Error("Failed to send session errors: %v", err)
	}
}

func (app *TuningApp) redisHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				app.log.Error("Redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

func (app *TuningApp) Destroy() {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.log.Info("Shutting down tuning application...")

	if app.cancel != nil {
		app.cancel()
	}

	if app.ipcRx != nil {
		app.ipcRx.Destroy()
		app.log.Info("IPC RX shutdown complete")
	}

	if app.emu != nil {
		app.emu.End()
		app.log.Info("Sensor emulator shutdown complete")
	}

	if app.output != nil {
		app.output.Close()
	}

	if app.bus != nil {
		if err := app.bus.Disconnect(); err != nil {
			app.log.Error("Error disconnecting CAN bus: %v", err)
		} else {
			app.log.Info("CAN bus disconnected")
		}
	}

	if app.ipcTx != nil {
		app.ipcTx.Destroy()
		app.log.Info("IPC TX shutdown complete")
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error("Error closing Redis connection: %v", err)
		} else {
			app.log.Info("Redis connection closed")
		}
	}

	app.log.Info("Tuning application shutdown complete")
}
