package cmd

import (
	"fmt"
	"log/slog"

	"opcbridge/device"
	"opcbridge/internal/config"
	"opcbridge/internal/log"
	"opcbridge/internal/server"
	"opcbridge/usb"
)

// Serve runs the bridge until the process exits.
type Serve struct {
	Config string `arg:"" optional:"" default:"opcbridge.json" type:"path" help:"Server config document (JSON or YAML)."`
}

func (c *Serve) Run(cli *CLI, logger *slog.Logger) error {
	doc, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	cfg := config.NewServerConfig(doc)
	if problems := cfg.Problems(); len(problems) > 0 {
		for _, p := range problems {
			logger.Error("configuration error", "problem", p)
		}
		return fmt.Errorf("%s: %d configuration problem(s)", c.Config, len(problems))
	}

	// The config document's verbose flag turns on device lifecycle
	// logging even when the CLI asked for a quieter level. Log files are
	// closed on process exit; the server never returns.
	if cfg.Verbose && log.ParseLevel(cli.Log.Level) > slog.LevelDebug {
		logger, _, err = log.Setup("debug", cli.Log.File)
		if err != nil {
			return err
		}
	}

	transport := usb.NewTransport()
	srv := server.New(cfg, transport, device.Families(), logger)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("server started", "addr", srv.Addr(), "configured_devices", len(cfg.Devices))

	srv.Run() // perpetual; shutdown is process-exit driven
	return nil
}
