package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/cuongbtq/imgembed/internal/config"
	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/engine"
	"github.com/cuongbtq/imgembed/internal/orchestrator"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/shared/logger"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// runFlags are the save option overrides accepted on the command line
type runFlags struct {
	overwrite  bool
	backup     bool
	sameFolder bool
	output     string
	prefix     string
	suffix     string
	logFolder  string
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	defaultConfigPath := os.Getenv("EMBED_CLI_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}

	fs := flag.NewFlagSet("embed-cli", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	var rf runFlags
	fs.BoolVar(&rf.overwrite, "overwrite", false, "Save each drawing over its source")
	fs.BoolVar(&rf.backup, "backup", false, "Copy the source into backup/ before overwriting")
	fs.BoolVar(&rf.sameFolder, "same-folder", false, "Write new files next to the source")
	fs.StringVar(&rf.output, "out", "", "Output folder for new files")
	fs.StringVar(&rf.prefix, "prefix", "", "New file name prefix")
	fs.StringVar(&rf.suffix, "suffix", "", "New file name suffix")
	fs.StringVar(&rf.logFolder, "log-folder", "", "Folder for the report files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("no drawings given")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateEngineConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	embedEngine, err := engine.New(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to start drawing host: %w", err)
	}
	defer embedEngine.Close()

	opts := embedEngine.DefaultOptions()
	fs.Visit(func(f *flag.Flag) { rf.apply(f.Name, &opts) })
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	items := embedEngine.Orchestrator(opts, report.NewMemory()).Run(ctx, paths)

	failed, err := printOutcomes(stdout, items)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d drawings failed", failed, len(items))
	}
	return nil
}

// apply copies one explicitly set flag onto opts
func (rf *runFlags) apply(name string, opts *orchestrator.Options) {
	switch name {
	case "overwrite":
		opts.Overwrite = rf.overwrite
	case "backup":
		opts.Backup = rf.backup
	case "same-folder":
		opts.SameFolder = rf.sameFolder
	case "out":
		opts.OutputFolder = rf.output
	case "prefix":
		opts.Prefix = rf.prefix
	case "suffix":
		opts.Suffix = rf.suffix
	case "log-folder":
		opts.LogFolder = rf.logFolder
	}
}

func printOutcomes(w io.Writer, items []domain.BatchItem) (int, error) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSOURCE\tTARGET\tMESSAGE")

	failed := 0
	for _, item := range items {
		if !item.Ok() {
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.Status, item.Source, item.Target, item.Message)
	}

	return failed, tw.Flush()
}

// initLogger keeps stdout free for the outcome table
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	logCfg := cfg.LoggerConfig()
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	return logger.New(logCfg)
}
