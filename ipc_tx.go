package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

type IPCTx struct {
	log   *LeveledLogger
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context
}

func NewIPCTx(logger *LeveledLogger, redis *redis.Client) *IPCTx {
	return &IPCTx{
		log:   logger,
		redis: redis,
		ctx:   context.Background(),
	}
}

func (tx *IPCTx) Destroy() {}

func (tx *IPCTx) SendEmulatorStatus(data RedisEmulatorStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, "tuning-emulator", map[string]interface{}{
		"mode":         data.Mode,
		"performance":  data.Performance,
		"tuning":       map[bool]string{true: "on", false: "off"}[data.TuningActive],
		"stealth":      map[bool]string{true: "on", false: "off"}[data.StealthActive],
		"speed-limit":  data.SpeedLimit,
		"divider":      data.Divider,
		"input-speed":  data.InputSpeed,
		"output-speed": data.OutputSpeed,
		"signal":       map[bool]string{true: "valid", false: "invalid"}[data.SignalValid],
	})

	// Notify listeners that the status hash changed.
	pipe.Publish(tx.ctx, "tuning-emulator status", nil)

	_, err := pipe.Exec(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to send emulator status: %v", err)
	}

	return nil
}

func (tx *IPCTx) SendSignalStats(data RedisSignalStats) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, "tuning-emulator", map[string]interface{}{
		"pulses:total":   data.TotalPulses,
		"pulses:valid":   data.ValidPulses,
		"pulses:dropped": data.DroppedPulses,
		"frequency":      data.AverageFrequency,
		"max-speed":      data.MaxSpeed,
		"quality":        data.SignalQuality,
	}).Err(); err != nil {
		return fmt.Errorf("failed to send signal stats: %v", err)
	}

	return nil
}

func (tx *IPCTx) SendBusStatus(data RedisBusStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, "tuning-bus", map[string]interface{}{
		"state":           data.State,
		"speed":           data.Speed,
		"motor-power":     data.MotorPower,
		"battery-level":   data.BatteryLevel,
		"battery-voltage": data.BatteryVoltage,
		"assist-level":    data.AssistLevel,
		"last-error":      data.LastError,
	})

	pipe.Publish(tx.ctx, "tuning-bus state", nil)

	_, err := pipe.Exec(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to send bus status: %v", err)
	}

	return nil
}

func (tx *IPCTx) SendSessionErrors(data RedisSessionErrors) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, "tuning-bus", map[string]interface{}{
		"errors:rx":       data.RxErrors,
		"errors:length":   data.LengthErrors,
		"errors:checksum": data.ChecksumErrors,
		"errors:tx":       data.TxErrors,
	}).Err(); err != nil {
		return fmt.Errorf("failed to send session errors: %v", err)
	}

	return nil
}
