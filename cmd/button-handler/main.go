// Command button-handler classifies button presses from GPIO lines or input
// devices and publishes them to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/config"
	"github.com/sweeney/button-handler/internal/dispatch"
	"github.com/sweeney/button-handler/internal/edge"
	"github.com/sweeney/button-handler/internal/evdev"
	"github.com/sweeney/button-handler/internal/gpio"
	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/mqtt"
	"github.com/sweeney/button-handler/internal/status"
	"github.com/sweeney/button-handler/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (built-in defaults when empty)")
	poll := flag.Duration("poll", 0, "GPIO polling interval (overrides config)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP status address, empty to disable (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	printState := flag.Bool("print-state", false, "Print current button levels and exit")

	flag.Parse()

	// Only flags given on the command line override the config file.
	var overrides config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			overrides.PollInterval = poll
		case "broker":
			overrides.Broker = broker
		case "http":
			overrides.HTTPAddr = httpAddr
		case "log-level":
			overrides.LogLevel = logLevel
		}
	})

	cfg, err := loadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, overrides, *printState, logger); err != nil {
		logger.Errorw("fatal", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string, overrides config.FlagOverrides) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfigFile(path); err != nil {
			return config.Config{}, err
		}
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(cfg config.Config, configPath string, overrides config.FlagOverrides, printState bool, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	l := &loop{
		logger:    logger,
		heartbeat: cfg.Heartbeat(),
		now:       time.Now,
	}

	// Initialize input
	failed := make(chan error, 1)
	switch cfg.Input.Mode {
	case config.ModePoll:
		lc, _ := cfg.LineConfig()
		reader, err := gpio.NewRealReader(lc)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		l.reader = reader

		if printState {
			return printLevels(reader, cfg.Input.Pins)
		}

	case config.ModeEdge:
		if printState {
			return errors.New("-print-state needs input.mode poll")
		}
		lc, _ := cfg.LineConfig()
		l.edges = edge.NewQueue(cfg.Input.QueueSize, nil)
		watcher, err := gpio.NewEdgeWatcher(lc, cfg.Debounce(), l.edges, logger)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer watcher.Close()

	case config.ModeEvdev:
		if printState {
			return errors.New("-print-state needs input.mode poll")
		}
		l.edges = edge.NewQueue(cfg.Input.QueueSize, nil)
		src, err := evdev.NewSource(cfg.Input.Devices, cfg.Input.KeyCodes, l.edges, logger)
		if err != nil {
			return fmt.Errorf("init input devices: %w", err)
		}
		go func() {
			if err := src.Run(ctx); err != nil {
				failed <- fmt.Errorf("input devices: %w", err)
			}
		}()
	}
	l.failed = failed

	handler, err := logic.NewHandler(cfg.ButtonCount(), cfg.LogicConfig(), cfg.Overrides(), start)
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}
	l.handler = handler

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		BufferSize:  cfg.MQTT.BufferSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()
	l.publisher = publisher
	l.mqttStatus = publisher

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(start, statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())
	l.tracker = tracker

	// Start HTTP status server
	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		var hub *web.Hub
		if cfg.HTTP.Live {
			hub = web.NewHub(logger, web.HubConfig{})
			go hub.Run(ctx)
		}
		srv = web.New(cfg.HTTP.Addr, tracker, hub, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warnw("http server error", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		logger.Infow("http status server listening", "addr", cfg.HTTP.Addr, "live", hub != nil)
	}

	l.dispatcher = newDispatcher(publisher, tracker, srv, logger)
	if err := applyBindings(cfg, l.dispatcher, publisher, tracker); err != nil {
		return err
	}

	if configPath != "" {
		w := config.NewWatcher(configPath, func(c config.Config) error {
			return applyBindings(c, l.dispatcher, publisher, tracker)
		}, logger)
		w.Overrides = overrides
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Warnw("config watcher stopped", "error", err)
			}
		}()
	}

	l.publishStatus("STARTUP", "", true)

	logger.Infow("started",
		"mode", cfg.Input.Mode,
		"buttons", cfg.ButtonCount(),
		"poll", cfg.PollInterval(),
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat())

	// In edge modes the ticker only settles timeouts.
	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return l.run(ticker.C, sigCh)
}

// newDispatcher registers the built-in outputs for every action: the status
// page history, MQTT, then the live websocket feed.
func newDispatcher(pub mqtt.Publisher, tracker *status.Tracker, srv *web.Server, logger *zap.SugaredLogger) *dispatch.Dispatcher {
	d := dispatch.New(logger)
	if tracker != nil {
		addAll(d, "status", func(e logic.Event) error {
			tracker.RecordEvents([]logic.Event{e})
			return nil
		})
	}
	addAll(d, "mqtt", pub.Publish)
	if srv != nil {
		addAll(d, "websocket", func(e logic.Event) error {
			srv.BroadcastEvent(e)
			return nil
		})
	}
	return d
}

func addAll(d *dispatch.Dispatcher, name string, cb dispatch.Callback) {
	for _, action := range logic.Actions {
		d.Add(dispatch.Binding{Name: name, Button: dispatch.AnyButton, Action: action, Callback: cb})
	}
}

// applyBindings installs the config file bindings, replacing any loaded before.
func applyBindings(cfg config.Config, d *dispatch.Dispatcher, pub mqtt.Publisher, tracker *status.Tracker) error {
	bindings, err := cfg.BuildBindings(pub)
	if err != nil {
		return fmt.Errorf("build bindings: %w", err)
	}
	d.Replace(config.BindingGroup, bindings)
	if tracker != nil {
		tracker.SetBindings(len(bindings))
	}
	return nil
}

func statusConfig(cfg config.Config) status.Config {
	lc := cfg.LogicConfig()
	return status.Config{
		Mode:            cfg.Input.Mode,
		PollMs:          cfg.PollInterval().Milliseconds(),
		DebounceMs:      cfg.Debounce().Milliseconds(),
		ShortPressMaxMs: lc.ShortPressMax.Milliseconds(),
		LongPressMinMs:  lc.LongPressMin.Milliseconds(),
		MultiPressMs:    lc.MultiPressInterval.Milliseconds(),
		HeartbeatMs:     cfg.Heartbeat().Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		HTTPAddr:        cfg.HTTP.Addr,
	}
}

func printLevels(reader gpio.Reader, pins []int) error {
	levels, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	for i, pressed := range levels {
		fmt.Printf("button %d (pin %d): %s\n", i, pins[i], levelString(pressed))
	}
	return nil
}

func levelString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
