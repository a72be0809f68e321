// Package engine assembles the drawing host, the insertion channel and the
// orchestrator from service configuration.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imgembed/internal/channel"
	"github.com/cuongbtq/imgembed/internal/config"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/host/simhost"
	"github.com/cuongbtq/imgembed/internal/orchestrator"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/scheduler"
)

// channelSource is a channel the simulated host can paste from
type channelSource interface {
	channel.InsertionChannel
	channel.Source
}

// Engine owns a running host and its insertion channel
type Engine struct {
	Host    host.Host
	Channel channel.InsertionChannel

	cfg    *config.Config
	logger *slog.Logger
	close  func()
}

// New starts the configured host driver
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	ch, err := newChannel(cfg.Host.Channel, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Host.Driver {
	case config.DriverSim:
		h := simhost.New(simhost.Options{
			IdleInterval:  cfg.Embed.IdleInterval,
			DecimalComma:  cfg.Host.DecimalComma,
			Direct:        cfg.Host.Direct,
			UnitsPerPixel: cfg.Host.UnitsPerPixel,
			Source:        ch,
			Logger:        logger.With(slog.String("component", "simhost")),
		})

		logger.Info("Drawing host started",
			slog.String("driver", cfg.Host.Driver),
			slog.String("channel", channelName(cfg.Host.Channel)),
			slog.Bool("direct", cfg.Host.Direct),
		)

		return &Engine{Host: h, Channel: ch, cfg: cfg, logger: logger, close: h.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported host driver: %s", cfg.Host.Driver)
	}
}

func newChannel(name string, logger *slog.Logger) (channelSource, error) {
	switch name {
	case "", config.ChannelMemory:
		return channel.NewMemory(), nil
	case config.ChannelClipboard:
		cb, err := channel.NewClipboard(logger)
		if err != nil {
			return nil, err
		}
		return cb, nil
	default:
		return nil, fmt.Errorf("unsupported insertion channel: %s", name)
	}
}

func channelName(name string) string {
	if name == "" {
		return config.ChannelMemory
	}
	return name
}

// DefaultOptions returns the configured save options
func (e *Engine) DefaultOptions() orchestrator.Options {
	run := e.cfg.Run
	return orchestrator.Options{
		Overwrite:    run.Overwrite,
		Backup:       run.Backup,
		SameFolder:   run.SameFolder,
		OutputFolder: run.OutputFolder,
		Prefix:       run.Prefix,
		Suffix:       run.Suffix,
		LogFolder:    run.LogFolder,
	}
}

// Orchestrator builds an orchestrator for one batch run
func (e *Engine) Orchestrator(opts orchestrator.Options, sink report.Sink) *orchestrator.Orchestrator {
	embed := e.cfg.Embed
	return orchestrator.New(&orchestrator.Config{
		Host:    e.Host,
		Channel: e.Channel,
		Sink:    sink,
		Logger:  e.logger,
		Options: opts,
		Scheduler: scheduler.Config{
			SettleDelay:     embed.SettleDelay,
			Watchdog:        embed.Watchdog,
			MeasureAttempts: embed.MeasureAttempts,
			MeasureInterval: embed.MeasureInterval,
		},
		Flags:          e.cfg.Host.Flags,
		QuiesceTimeout: embed.QuiesceTimeout,
	})
}

// Close stops the host
func (e *Engine) Close() {
	if e.close != nil {
		e.close()
	}
}
