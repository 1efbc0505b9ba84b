package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linanwx/clawlink/internal/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a health snapshot",
	Long: `Print connection, queue, function and runtime information as YAML.

With --probe the command connects to the configured server first, so the
snapshot reflects whether the server is reachable right now.`,
	RunE: runStatus,
}

var (
	statusProbe   bool
	statusTimeout time.Duration
)

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "Connect to the server before collecting")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "Probe connection timeout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if statusProbe && cfg.Server.URL != "" {
		if err := rt.session.Connect(cfg.Server.URL); err != nil {
			return err
		}
		_ = rt.waitConnected(statusTimeout)
	}

	snap := health.Collect(health.Options{Session: rt.session, Engine: rt.engine})
	if snap.Connection.URL == "" {
		snap.Connection.URL = cfg.Server.URL
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
