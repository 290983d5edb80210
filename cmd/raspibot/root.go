package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"raspibot/internal/auth"
	"raspibot/internal/bot"
	"raspibot/internal/camera"
	"raspibot/internal/config"
	"raspibot/internal/console"
	"raspibot/internal/gpio"
	"raspibot/internal/logging"
	"raspibot/internal/notify"
	"raspibot/internal/power"
	"raspibot/internal/probe"
	"raspibot/internal/report"
	"raspibot/internal/supervisor"
	"raspibot/internal/telegram"
	"raspibot/internal/watcher"
)

const (
	shutdownTimeout   = 15 * time.Second
	configChangedText = "Configuration file changed on disk; restart the bot to apply it."
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "raspibot",
	Short: "Remote-control bot for a single-board computer",
	Long: `raspibot lets one Telegram user check on and drive a Raspberry Pi.

Run the bot (reads .env in the working directory):
  raspibot
  raspibot --config ~/raspibot.env

Inspect the host locally:
  raspibot status
  raspibot top`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "dotenv config file (default is ./.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := telegram.New(cfg.BotToken, log.Named("telegram"))
	if err != nil {
		return err
	}

	cam, err := buildCamera(cfg)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	led := gpio.Open(cfg.LEDPin)
	if !led.Available() {
		log.Warnw("GPIO unavailable, /led disabled", "pin", led.Name(), "reason", led.Reason())
	}

	host := probe.New(cfg.Hostname)
	notifier := notify.New(transport, cfg.OwnerID, log.Named("notify"))
	sup := supervisor.New(supervisor.Options{Shell: cfg.ShellPath, Logger: log.Named("supervisor")})

	b := bot.New(bot.Deps{
		Hostname:   host.Hostname,
		Supervisor: sup,
		LED:        led,
		Camera:     cam,
		Probe:      host,
		Power:      power.NewExecutor(cfg.RebootCommand, cfg.PoweroffCommand, nil, log.Named("power")),
		Notifier:   notifier,
		Gate:       auth.NewGate(cfg.OwnerID, notifier, log.Named("auth")).Middleware(),
		Logger:     log.Named("bot"),
	})

	if cfg.ConsoleAddr != "" {
		srv := console.New(sup, host, log.Named("console"))
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.ConsoleAddr); err != nil {
				log.Errorw("console stopped", "error", err)
			}
		}()
	}

	if cfg.WatchConfig && cfg.File != "" {
		w, err := watcher.New(cfg.File, func(string) {
			notifier.Notify(context.Background(), configChangedText)
		}, log.Named("watcher"))
		if err != nil {
			log.Warnw("config watcher disabled", "error", err)
		} else {
			defer w.Shutdown()
		}
	}

	b.AnnounceOnline(ctx)

	job := report.New(host, notifier, cfg.ReportTop, cfg.ReportInterval, log.Named("report"))
	if err := job.Start(ctx); err != nil {
		return err
	}
	defer job.Stop()

	log.Infow("bot running", "host", host.Hostname, "owner", cfg.OwnerID)
	runErr := transport.Run(ctx, b.Dispatch)

	shutdown(log, b, sup)
	return runErr
}

func shutdown(log *zap.SugaredLogger, b *bot.Bot, sup *supervisor.Supervisor) {
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	b.AnnounceOffline(ctx)
	sup.Shutdown(ctx)
	if err := b.Wait(ctx); err != nil {
		log.Warnw("handlers still running at exit", "error", err)
	}
}

// hostProbe builds a probe from the config file without requiring the
// transport credentials.
func hostProbe() (*probe.Probe, *config.Config, error) {
	cfg, err := config.Read(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return probe.New(cfg.Hostname), cfg, nil
}

// buildCamera prefers the V4L2 device and falls back to the capture command.
// Either may be disabled by leaving it empty.
func buildCamera(cfg *config.Config) (camera.Fallback, error) {
	var cams camera.Fallback
	if cfg.CameraDevice != "" {
		cams = append(cams, camera.NewDevice(cfg.CameraDevice, cfg.CameraWidth, cfg.CameraHeight, cfg.CameraTimeout))
	}
	if strings.TrimSpace(cfg.CameraCommand) != "" {
		cmd, err := camera.NewCommand(cfg.CameraCommand, cfg.CameraTimeout)
		if err != nil {
			return nil, err
		}
		cams = append(cams, cmd)
	}
	return cams, nil
}
