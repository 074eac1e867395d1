package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/llm-phish-scanner/internal/adapters/filter"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/di"
)

var (
	inputFile    string
	format       string
	noIdentity   bool
	noReputation bool
	noIntent     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a message for phishing risk",
	Long: `Scan one RFC 5322 message read from a file, or from stdin when no file is given.

Examples:
  phish-detector scan --file message.eml
  phish-detector scan --file message.eml --format json
  phish-detector scan --file message.eml --no-reputation --provider none`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&inputFile, "file", "f", "", "Input message file (stdin if not specified)")
	scanCmd.Flags().StringVar(&format, "format", filter.FormatText, "Report format (text, json, markdown)")
	scanCmd.Flags().BoolVar(&noIdentity, "no-identity", false, "Skip the sender identity layer")
	scanCmd.Flags().BoolVar(&noReputation, "no-reputation", false, "Skip the URL reputation layer")
	scanCmd.Flags().BoolVar(&noIntent, "no-intent", false, "Skip the LLM intent layer")
}

func runScan(cmd *cobra.Command, _ []string) error {
	container, err := di.BuildCLIContainer(&di.CLIOptions{
		ConfigFile: configFile,
		Provider:   provider,
		Format:     format,
		Verbose:    verbose,
		JSONLog:    jsonLog,
		Output:     cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("building dependency container: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return container.Invoke(func(
		logger *zap.Logger,
		cli *filter.CliFilter,
		service *core.ScanService,
		llmClient core.LLMClient,
	) error {
		defer logger.Sync()
		defer closeLLM(logger, llmClient)

		layers := service.DefaultLayers()
		if noIdentity {
			layers.Identity = false
		}
		if noReputation {
			layers.Reputation = false
		}
		if noIntent {
			layers.Intent = false
		}

		if inputFile != "" {
			_, err := cli.ProcessFile(ctx, inputFile, layers)
			return err
		}
		return scanStdin(ctx, cli, layers)
	})
}

func scanStdin(ctx context.Context, cli *filter.CliFilter, layers core.LayerConfig) error {
	msg, err := filter.ParseMessage(os.Stdin, "")
	if err != nil {
		return fmt.Errorf("reading message from stdin: %w", err)
	}
	_, err = cli.ProcessMessage(ctx, msg, layers)
	return err
}

func closeLLM(logger *zap.Logger, llmClient core.LLMClient) {
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close LLM client", zap.Error(err))
		}
	}
}
