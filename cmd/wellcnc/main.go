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

	"github.com/joho/godotenv"
	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
	"github.com/mastercactapus/wellcnc/machine/grbl"
	"github.com/mastercactapus/wellcnc/machine/grbl/grblsim"
	"github.com/mastercactapus/wellcnc/plate"
	"github.com/mastercactapus/wellcnc/spjs"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("WELLCNC_CONFIG", "cnc_settings.yaml"), "Settings file with machine and plate definitions.")
	model := flag.String("model", envOr("WELLCNC_MODEL", "Genmitsu 4040 PRO"), "Machine model to load from the settings file.")
	port := flag.String("port", os.Getenv("WELLCNC_PORT"), "Serial port (or port name if using SPJS). Located automatically when empty.")
	spjsURL := flag.String("spjs", os.Getenv("WELLCNC_SPJS"), "Websocket URL of the SPJS server to use, e.g. ws://cnc-bridge:8989/ws.")
	addr := flag.String("addr", envOr("WELLCNC_ADDR", ":9091"), "Address to bind the API server to.")
	mqttBroker := flag.String("mqtt", os.Getenv("WELLCNC_MQTT"), "MQTT broker to publish machine state to, e.g. tcp://localhost:1883.")
	mqttTopic := flag.String("mqtt-topic", envOr("WELLCNC_MQTT_TOPIC", "wellcnc"), "MQTT topic prefix.")
	sim := flag.Bool("sim", os.Getenv("WELLCNC_SIM") == "1", "Use a simulated controller.")
	poll := flag.Duration("poll", time.Second, "Position poll interval while idle. Zero disables polling.")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit.")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error).")
	flag.Parse()

	lvl, err := logger.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.SetLogger(logger.NewSlog(lvl, false))

	if *listPorts {
		ports, err := grbl.ListPorts()
		if err != nil {
			logger.Fatal("list ports", "error", err)
		}
		for _, p := range ports {
			fmt.Printf("%s\tusb=%t vid=%s pid=%s serial=%s %s\n", p.Name, p.IsUSB, p.VID, p.PID, p.SerialNumber, p.Product)
		}
		return
	}

	cfg, err := machine.LoadConfig(*configPath, *model)
	if err != nil {
		logger.Fatal("load config", "path", *configPath, "error", err)
	}
	plates, err := plate.LoadLayouts(*configPath)
	if err != nil {
		logger.Warn("no plate layouts", "path", *configPath, "error", err)
		plates = map[string]plate.Layout{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dial machine.Dialer
	switch {
	case *sim:
		dial = simDialer()
	case *spjsURL != "":
		if *port == "" {
			logger.Fatal("-port is required with -spjs")
		}
		sp := spjs.NewClient(*spjsURL)
		defer sp.Close()
		dial = spjsDialer(sp, *port)
	default:
		name := *port
		if name == "" {
			name, err = grbl.NewLocator(cfg).Locate(ctx)
			if err != nil {
				logger.Fatal("locate controller", "error", err)
			}
		}
		dial = grbl.Dialer(name)
	}

	m := machine.New(cfg)
	if err = m.Connect(ctx, dial); err != nil {
		logger.Fatal("connect", "error", err)
	}
	defer m.Disconnect()

	var sinks []stateSink
	if *mqttBroker != "" {
		pub, err := newPublisher(*mqttBroker, *mqttTopic, "wellcnc-"+cfg.Model)
		if err != nil {
			logger.Fatal("mqtt", "broker", *mqttBroker, "error", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	a := newAPI(m, plates, sinks...)
	defer a.Close()
	if *poll > 0 {
		go pollPosition(ctx, m, *poll)
	}

	srv := &http.Server{Addr: *addr, Handler: a}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", *addr, "model", cfg.Model)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
	}
}

func simDialer() machine.Dialer {
	return func(ctx context.Context, cfg machine.Config) (machine.Adapter, error) {
		s := grblsim.New(grblsim.Options{Rate: 50, Limits: &cfg})
		return grbl.DialStream(ctx, "sim", s, cfg)
	}
}

func spjsDialer(sp *spjs.Client, port string) machine.Dialer {
	return func(ctx context.Context, cfg machine.Config) (machine.Adapter, error) {
		p, err := sp.Open(ctx, port, cfg.BaudRate)
		if err != nil {
			return nil, &machine.ConnectionError{Port: port, Err: err}
		}
		return grbl.DialStream(ctx, port, p, cfg)
	}
}

// pollPosition queries the controller while it is otherwise idle so state
// subscribers keep receiving updates.
func pollPosition(ctx context.Context, m *machine.Machine, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if m.Phase() != machine.PhaseReady {
			continue
		}
		if _, err := m.ReadCoordinates(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("poll position", "error", err)
		}
	}
}
