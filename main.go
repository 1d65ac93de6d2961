package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tuning-service/canbus"
	"tuning-service/emulator"
)

var (
	version     = flag.Bool("version", false, "Print version info")
	help        = flag.Bool("help", false, "Print help")
	logLevel    = flag.Int("log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	redisServer = flag.String("redis_server", "127.0.0.1", "Redis server address")
	redisPort   = flag.Int("redis_port", 6379, "Redis server port")
	canDevice   = flag.String("can_device", "can0", "CAN device name")
	generation  = flag.Int("generation", 4, "Controller protocol generation (1-5)")
	configPath  = flag.String("config", "", "Optional YAML configuration file")
	benchIO     = flag.Bool("bench", false, "Use in-memory pulse IO instead of GPIO")
)

const (
	ProjectName    = "tuning-service"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg = loaded
	}

	// Flags passed explicitly win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log":
			cfg.LogLevel = *logLevel
		case "redis_server":
			cfg.RedisServer = *redisServer
		case "redis_port":
			cfg.RedisPort = *redisPort
		case "can_device":
			cfg.CANDevice = *canDevice
		case "generation":
			cfg.Generation = *generation
		case "bench":
			cfg.Bench = *benchIO
		}
	})

	if cfg.LogLevel < 0 || cfg.LogLevel > 4 {
		log.Fatalf("invalid log level %d", cfg.LogLevel)
	}

	gen := canbus.Generation(cfg.Generation)
	if !gen.Valid() {
		log.Fatalf("invalid controller generation %d (must be 1-5)", cfg.Generation)
	}

	mode, err := parseOperatingMode(cfg.Sensor.DefaultMode)
	if err != nil {
		log.Fatalf("%v", err)
	}

	opts := &Options{
		LogLevel:        LogLevel(cfg.LogLevel),
		RedisServerAddr: cfg.RedisServer,
		RedisServerPort: uint16(cfg.RedisPort),
		CANDevice:       cfg.CANDevice,
		Generation:      gen,
		BenchIO:         cfg.Bench,
		CyclePeriod:     emulator.DefaultCyclePeriod,
		Sensor: emulator.SensorConfig{
			InputPin:            cfg.Sensor.InputPin,
			OutputPin:           cfg.Sensor.OutputPin,
			PulsesPerRevolution: cfg.Sensor.PulsesPerRevolution,
			WheelCircumference:  cfg.Sensor.WheelCircumference,
			MaxSpeedLimit:       cfg.Sensor.MaxSpeedLimit,
			DefaultMode:         mode,
			EnableSmoothing:     cfg.Sensor.EnableSmoothing,
			EnableAntiAlias:     cfg.Sensor.EnableAntiAlias,
		},
	}

	app, err := NewTuningApp(opts)
	if err != nil {
		log.Fatalf("failed to create tuning app: %v", err)
	}
	defer app.Destroy()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run until signal received
	<-sigChan
}
