// Command pdsink negotiates power from a USB PD source through a FUSB302
// attached to a host I2C bus.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/oxplot/go-pdsink/internal/config"
	"github.com/oxplot/go-pdsink/internal/logging"
	"github.com/oxplot/go-pdsink/internal/monitor"
	"github.com/oxplot/go-pdsink/pdmsg"
	"github.com/oxplot/go-pdsink/sink"
	"github.com/oxplot/go-pdsink/tcpcdriver/fusb302"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logging.Configure(logging.ProfileRuntime, "")
			log.Fatal().Err(err).Msg("config")
		}
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	logger := logging.Configure(logging.ProfileRuntime, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("pdsink")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	policy, err := cfg.Policy.Build(os.Stdout)
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := bus.SetSpeed(physic.Frequency(cfg.BusSpeedHz) * physic.Hertz); err != nil {
		return err
	}

	var mon *monitor.Server
	if cfg.MonitorAddr != "" {
		mon = monitor.New(logger.With().Str("component", "monitor").Logger())
		mux := http.NewServeMux()
		mux.Handle("/ws", mon)
		srv := &http.Server{Addr: cfg.MonitorAddr, Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.MonitorAddr).Msg("monitor listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("monitor")
			}
		}()
		defer srv.Close()
	}

	handler := sink.EventHandlerFunc(func(e sink.Event) {
		logEvent(logger, e)
		if mon != nil {
			mon.HandleEvent(e)
		}
	})

	pdmsg.SetLogger(logger.With().Str("component", "pdmsg").Logger())
	tr := fusb302.New(bus, cfg.MPN, fusb302.WithLogger(logger.With().Str("component", "fusb302").Logger()))
	s := sink.New(tr,
		sink.WithLogger(logger.With().Str("component", "sink").Logger()),
		sink.WithSelector(policy),
		sink.WithEventHandler(handler),
	)
	if err := s.Init(); err != nil {
		return err
	}
	logger.Info().Str("bus", cfg.Bus).Str("policy", cfg.Policy.Kind).Msg("started")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.Poll(now); err != nil {
				logger.Error().Err(err).Msg("poll failed, reinitializing")
				if err := s.Init(); err != nil {
					return err
				}
			}
		}
	}
}

func logEvent(logger zerolog.Logger, e sink.Event) {
	switch e.Kind {
	case sink.EventProtocolChanged:
		logger.Info().Stringer("protocol", e.Protocol).Msg("protocol changed")
	case sink.EventSourceCapabilitiesChanged:
		logger.Debug().Int("count", len(e.Capabilities)).Msg("source capabilities")
	case sink.EventPowerAccepted:
		logger.Debug().Uint16("voltage_mv", e.Power.Voltage).Uint16("max_current_ma", e.Power.MaxCurrent).Msg("power accepted")
	case sink.EventPowerRejected:
		logger.Warn().Msg("power rejected")
	case sink.EventPowerReady:
		logger.Info().Uint16("voltage_mv", e.Power.Voltage).Uint16("max_current_ma", e.Power.MaxCurrent).Msg("power ready")
	case sink.EventFailed:
		logger.Warn().Err(e.Err).Msg("negotiation failed")
	}
}
