package di

import (
	"io"
	"os"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-phish-scanner/internal/adapters/filter"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/factory"
	"github.com/mikey/llm-phish-scanner/internal/logging"
)

// CLIOptions contains the command line options of the CLI application
type CLIOptions struct {
	ConfigFile string
	Provider   string
	Format     string
	Verbose    bool
	JSONLog    bool
	Output     io.Writer
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(opts *CLIOptions) (*dig.Container, error) {
	container := dig.New()

	// Register options
	if err := container.Provide(func() *CLIOptions { return opts }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(opts *CLIOptions) (*zap.Logger, error) {
		return logging.InitConsoleLogger(opts.Verbose, opts.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(loadCLIConfig); err != nil {
		return nil, err
	}

	if err := provideScanStack(container); err != nil {
		return nil, err
	}

	// Register CLI filter
	if err := container.Provide(factory.NewFilterFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.FilterFactory, opts *CLIOptions) (*filter.CliFilter, error) {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		return f.CreateCliFilter(opts.Format, out)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// loadCLIConfig reads the given file, or the usual search paths when none is given,
// and applies the command line overrides. One-shot scans never use the cache.
func loadCLIConfig(opts *CLIOptions, logger *zap.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = config.NewFromFile(opts.ConfigFile)
	} else {
		cfg, err = config.New()
	}
	if err != nil {
		return nil, err
	}
	if used := cfg.GetViper().ConfigFileUsed(); used != "" {
		logger.Info("Loaded configuration from file", zap.String("file", used))
	}

	if opts.Provider != "" {
		cfg.Set("llm.provider", opts.Provider)
	}
	cfg.Set("cache.enabled", false)
	return cfg, nil
}
