package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/cowboyrushforth/fprintvirt/config"
	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprintd"
	"github.com/cowboyrushforth/fprintvirt/loop"
	"github.com/cowboyrushforth/fprintvirt/store"
	"github.com/cowboyrushforth/fprintvirt/virtual"
)

const version = "0.1.0"

var configPath = flag.String("config", "", "Path to the configuration file (defaults to ~/.config/fprintvirt/config.json)")

func main() {
	fplog.SetLevel(fplog.LevelInfo)
	versionFlag := flag.Bool("version", false, "print version information")
	flag.Parse()
	if *versionFlag {
		fplog.Info("Version: %s", version)
		return
	}

	// Load configuration
	if err := config.LoadConfig(*configPath); err != nil {
		fplog.Fatal("Failed to load configuration: %v", err)
	}
	cfg := config.Get()

	s, err := newServer(cfg)
	if err != nil {
		fplog.Fatal("Failed to start: %v", err)
	}
	defer s.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s.run(ctx)
}

type server struct {
	loop   *loop.Loop
	dev    *virtual.Device
	store  store.Store
	prints store.Store
	conn   *dbus.Conn
}

func newServer(cfg config.Configuration) (*server, error) {
	s := &server{loop: loop.New()}

	deviceStore, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}
	s.store = deviceStore
	s.dev = virtual.New(s.loop, cfg.Device(deviceStore))

	fplog.Info("Virtual device %s (%s), simulation socket %s", s.dev.Name(), s.dev.Driver(), s.dev.SocketPath())

	if cfg.DBus == config.DBusOff {
		// Without a bus nobody claims the device, keep it open
		if err := s.dev.OpenSync(context.Background()); err != nil {
			s.shutdown()
			return nil, err
		}
		return s, nil
	}

	if err := s.export(cfg); err != nil {
		s.shutdown()
		return nil, err
	}
	return s, nil
}

func (s *server) export(cfg config.Configuration) error {
	var err error
	if cfg.DBus == config.DBusSystem {
		s.conn, err = dbus.ConnectSystemBus()
	} else {
		s.conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return err
	}

	s.prints = store.NewMemoryStore()
	if cfg.HostStoragePath != "" {
		s.prints, err = store.Open(store.KindJSON, cfg.HostStoragePath)
		if err != nil {
			return err
		}
	}

	svc := fprintd.NewService(s.loop, s.dev.Device, s.prints)
	return svc.Export(s.conn)
}

func (s *server) run(ctx context.Context) {
	fplog.Info("fprintvirtd %s running", version)
	if err := s.loop.Run(ctx); err != nil && ctx.Err() == nil {
		fplog.Error("Loop stopped: %v", err)
	}
	fplog.Info("Shutting down")
}

func (s *server) shutdown() {
	if s.dev != nil {
		if s.dev.IsOpen() && !s.dev.Removed() && s.dev.CurrentAction() == nil {
			if err := s.dev.CloseSync(context.Background()); err != nil {
				fplog.Warn("Error closing device: %v", err)
			}
		}
		s.dev.Teardown()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	for _, st := range []store.Store{s.store, s.prints} {
		if st == nil {
			continue
		}
		if err := st.Close(); err != nil {
			fplog.Warn("Error closing storage: %v", err)
		}
	}
}
