package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tuning-service/emulator"
)

// SensorFileConfig mirrors emulator.SensorConfig with YAML tags and a
// textual mode name.
type SensorFileConfig struct {
	InputPin            int     `yaml:"input_pin"`
	OutputPin           int     `yaml:"output_pin"`
	PulsesPerRevolution int     `yaml:"pulses_per_revolution"`
	WheelCircumference  float32 `yaml:"wheel_circumference"`
	MaxSpeedLimit       float32 `yaml:"max_speed_limit"`
	DefaultMode         string  `yaml:"default_mode"`
	EnableSmoothing     bool    `yaml:"enable_smoothing"`
	EnableAntiAlias     bool    `yaml:"enable_anti_alias"`
}

// FileConfig is the optional YAML configuration file. Command line
// flags passed explicitly override its values.
type FileConfig struct {
	LogLevel    int              `yaml:"log_level"`
	RedisServer string           `yaml:"redis_server"`
	RedisPort   int              `yaml:"redis_port"`
	CANDevice   string           `yaml:"can_device"`
	Generation  int              `yaml:"generation"`
	Bench       bool             `yaml:"bench"`
	Sensor      SensorFileConfig `yaml:"sensor"`
}

func DefaultConfig() FileConfig {
	return FileConfig{
		LogLevel:    3,
		RedisServer: "127.0.0.1",
		RedisPort:   6379,
		CANDevice:   "can0",
		Generation:  4,
		Sensor: SensorFileConfig{
			InputPin:            17,
			OutputPin:           27,
			PulsesPerRevolution: 1,
			WheelCircumference:  2.1,
			MaxSpeedLimit:       25,
			DefaultMode:         "disabled",
		},
	}
}

// LoadConfig reads a YAML file over the defaults, so partial files only
// override what they name.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	return cfg, nil
}

func parseOperatingMode(name string) (emulator.OperatingMode, error) {
	switch name {
	case "disabled", "":
		return emulator.ModeDisabled, nil
	case "eco":
		return emulator.ModeEco, nil
	case "sport":
		return emulator.ModeSport, nil
	case "unlimited":
		return emulator.ModeUnlimited, nil
	case "stealth":
		return emulator.ModeStealth, nil
	default:
		return emulator.ModeDisabled, fmt.Errorf("unknown operating mode %q", name)
	}
}
