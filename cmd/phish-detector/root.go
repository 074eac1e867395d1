package main

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	provider   string
	verbose    bool
	jsonLog    bool
)

var rootCmd = &cobra.Command{
	Use:   "phish-detector",
	Short: "Phishing risk scanner for single messages",
	Long: `phish-detector scores a single email message for phishing risk using three
independent layers: sender identity (SPF, DKIM, DMARC), URL and domain
reputation, and LLM-based intent analysis.

Example:
  phish-detector scan --file message.eml
  phish-detector scan --file message.eml --format markdown --no-intent
  cat message.eml | phish-detector scan --format json`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "LLM provider override (ollama, openai, gemini, vertex, bedrock, none)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Output logs in JSON format")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
