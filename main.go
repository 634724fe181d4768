package main

import (
	"fmt"
	"os"
	"time"

	"github.com/chipstream-io/chipstream/cmd"
	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/logging"
	"github.com/chipstream-io/chipstream/internal/telemetry"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if configPath, err := conf.FindConfigFile(); err == nil {
		logging.Debug("using config file", "path", configPath)
	}

	// Error tracking is opt-in and disabled by default.
	if err := telemetry.Init(settings); err != nil {
		logging.Warn("error tracking initialization failed", "error", err)
	}
	defer telemetry.Flush(2 * time.Second)

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
