package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "embed"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	_ "github.com/kurobane/migrata/pkg/etl/adapter/storage/gcs"
	_ "github.com/kurobane/migrata/pkg/etl/adapter/storage/local"
	_ "github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore/mysql"
	_ "github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore/postgres"
	_ "github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore/sqlite"

	"github.com/kurobane/migrata/pkg/etl/core/config"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// embeddedConfig holds the default application configuration. A file given
// via --config replaces it entirely.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// main parses the command line, wires signal handling and hands over to the
// Fx application. The process exit code reflects the session outcome: 0 when
// every transformer completed, 1 otherwise.
func main() {
	configPath := flag.String("config", "", "path to a configuration file replacing the embedded defaults")
	only := flag.String("only", "", "comma-separated transformer names to run (default: every registered transformer)")
	dryRun := flag.Bool("dry-run", false, "run without writing to the target store")
	enableRollback := flag.Bool("enable-rollback", false, "snapshot before each run and roll back on failure")
	batchSize := flag.Int("batch-size", 0, "override the configured batch size")
	logLevel := flag.String("log-level", "", "override the configured log level")
	logFile := flag.String("log-file", "", "mirror log output to the given file")
	flag.Parse()

	flagsSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { flagsSet[f.Name] = true })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping the migration session...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	raw := config.EmbeddedConfig(embeddedConfig)
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Fatalf("Failed to read configuration file '%s': %v", *configPath, err)
		}
		raw = b
	}

	cli := cliOptions{
		only:           splitNames(*only),
		dryRun:         *dryRun,
		enableRollback: *enableRollback,
		rollbackSet:    flagsSet["enable-rollback"],
		batchSize:      *batchSize,
		logLevel:       *logLevel,
		logFile:        *logFile,
	}

	os.Exit(runApplication(ctx, envFilePath, raw, cli))
}

// splitNames parses the --only selection into a list of transformer names.
func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
