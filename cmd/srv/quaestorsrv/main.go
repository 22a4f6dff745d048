package main

import (
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-quaestor/pkg/cluster"
	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"configuration file or directory containing quaestor.config.yml" required:"true"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the cluster (debug feature)"`
	LogLevel    string `long:"log-level" description:"overrides the configured log level (debug, info, warn, error)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger, sync, err := logging.NewZapLogger("quaestor: ", cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	logger.Infof("opts: %+v", opts)

	runDuration := time.Duration(opts.RunDuration) * time.Second
	if err := cluster.Run(cfg, runDuration, logger); err != nil {
		logger.Errorf("Cluster failed: %v", err)
		sync()
		os.Exit(1)
	}
}
