package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linanwx/clawlink/bus"
	"github.com/linanwx/clawlink/config"
	"github.com/linanwx/clawlink/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the client session until interrupted",
	Long: `Connect to the configured command server and keep the session alive.

Incoming function calls are executed while connected and queued while offline.
Scheduled calls from config.yaml and cron.yaml are dispatched locally.

Examples:
  clawlink serve
  clawlink serve --url wss://example.com/ws
  clawlink serve --watch        # reload config.yaml on change`,
	RunE: runServe,
}

var (
	serveURL   string
	serveWatch bool
)

func init() {
	serveCmd.Flags().StringVar(&serveURL, "url", "", "Override server URL (ws:// or wss://)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload config.yaml on change and reconnect if the URL changed")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveURL != "" {
		cfg.Server.URL = serveURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	subscribeLogging(rt.bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler, err := startScheduler(ctx, rt)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	if cfg.Server.URL == "" {
		logger.Warn("server url not configured; running offline, calls will be queued")
	} else if err := rt.session.Connect(cfg.Server.URL); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if serveWatch {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		go func() {
			current := cfg
			err := config.Watch(ctx, path, func(next *config.Config) {
				if serveURL != "" {
					next.Server.URL = serveURL
				}
				applyReload(rt, scheduler, current, next)
				current = next
			})
			if err != nil {
				logger.Warn("config watch stopped", "err", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("clawlink service started", "url", cfg.Server.URL, "functions", len(rt.reg.IDs()), "queued", rt.queue.Count())
	fmt.Println("clawlink is running. Press Ctrl+C to stop.")

	<-ctx.Done()

	logger.Info("clawlink service stopped")
	return nil
}

func subscribeLogging(b *bus.Bus) {
	b.Subscribe(bus.EventConnectionState, func(_ context.Context, e *bus.Event) {
		var data bus.ConnectionStateData
		if err := e.ParseData(&data); err != nil {
			return
		}
		if data.Error != "" {
			logger.Warn("connection state changed", "from", data.Previous, "to", data.State, "err", data.Error)
			return
		}
		logger.Info("connection state changed", "from", data.Previous, "to", data.State)
	})
	b.Subscribe(bus.EventQueueCount, func(_ context.Context, e *bus.Event) {
		var data bus.QueueCountData
		if err := e.ParseData(&data); err == nil {
			logger.Debug("offline queue changed", "pending", data.Pending)
		}
	})
	b.Subscribe(bus.EventCallResult, func(_ context.Context, e *bus.Event) {
		var data bus.CallResultData
		if err := e.ParseData(&data); err != nil {
			return
		}
		logger.Debug("call finished", "id", data.CallID, "name", data.Name, "status", data.Status, "origin", data.Origin)
	})
}

// applyReload reconnects on a server change and reseeds schedules. Other
// sections take effect on the next start.
func applyReload(rt *clientRuntime, scheduler *cronRuntime, prev, next *config.Config) {
	if next.Server.URL != prev.Server.URL {
		if next.Server.URL == "" {
			logger.Info("server url removed, disconnecting")
			rt.session.Disconnect()
		} else {
			logger.Info("server url changed, reconnecting", "url", next.Server.URL)
			if err := rt.session.Connect(next.Server.URL); err != nil {
				logger.Warn("reconnect failed", "url", next.Server.URL, "err", err)
			}
		}
	}
	scheduler.Reseed(next)
}
