// clawlink keeps a client session to a remote command server.
package main

import (
	"fmt"
	"os"

	"github.com/linanwx/clawlink/cmd"
	"github.com/linanwx/clawlink/config"
	"github.com/linanwx/clawlink/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	configDir, _ := config.ConfigDir()
	if err := logger.Init(cfg.BuildLoggerConfig(), configDir); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}
	defer logger.Close()
	cmd.Execute()
}
