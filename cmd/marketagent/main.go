// Package main provides the marketagent CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/weichinwang/marketagent/cli"
	"github.com/weichinwang/marketagent/report"
)

var (
	// Global flags
	provider    string
	modelName   string
	temperature float64
	maxTokens   uint32
	verbose     bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "marketagent",
		Short: "Financial query dispatch and reporting over LLM function calling",
		Long: `marketagent routes natural-language financial questions to backing
actions — line charts, corpus retrieval, or tabular analysis — via the
model's function-calling feature, and assembles quarterly earnings reports.`,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "gemini", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Model ID override")
	rootCmd.PersistentFlags().Float64Var(&temperature, "temperature", 0, "Sampling temperature override")
	rootCmd.PersistentFlags().Uint32Var(&maxTokens, "max-tokens", 0, "Max output tokens override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(actionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		Provider:    provider,
		Model:       modelName,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Verbose:     verbose,
	}
}

func queryCmd() *cobra.Command {
	var (
		prompt  string
		history string
		role    string
		auto    bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Dispatch a financial question to a chart, retrieval or tabular action",
		Long: `Dispatch one natural-language question. The model picks an action:

- plot_line_chart: renders quarterly metric lines to a PNG
- rag_retrieval: answers from the role's research corpus
- csv_agent: answers from the quarterly financial dataset

With --auto the model may also answer directly without an action.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			return cli.Query(context.Background(), cli.QueryParams{
				Prompt:  prompt,
				History: history,
				Role:    role,
				Auto:    auto,
			}, options())
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "The question to dispatch")
	cmd.Flags().StringVar(&history, "history", "", `Prior turns as JSON [{"role","parts":[{"text"}]}]`)
	cmd.Flags().StringVar(&role, "role", "Global", "Data scope: Global, China or Korea")
	cmd.Flags().BoolVar(&auto, "auto", false, "Allow a direct answer without selecting an action")

	return cmd
}

func reportCmd() *cobra.Command {
	var (
		csvPath        string
		transcriptPath string
		company        string
		year           int
		quarter        int
		out            string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a quarterly earnings report from a CSV and a call transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if csvPath == "" || transcriptPath == "" || company == "" {
				return fmt.Errorf("--csv, --transcript and --company are required")
			}
			return cli.Report(context.Background(), report.Params{
				CSVPath:        csvPath,
				TranscriptPath: transcriptPath,
				Company:        company,
				Year:           year,
				Quarter:        quarter,
			}, out, options())
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "Quarterly financial data CSV")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Earnings-call transcript text file")
	cmd.Flags().StringVar(&company, "company", "", "Company to report on")
	cmd.Flags().IntVar(&year, "year", 2024, "Report year")
	cmd.Flags().IntVar(&quarter, "quarter", 3, "Report quarter (1-4)")
	cmd.Flags().StringVar(&out, "out", "", "Output root (default summarize_reports)")

	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat surface over HTTP",
		Long: `Serve POST /chat and POST /chat/stream. With --db, conversations are
persisted per session_id in a SQLite database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(context.Background(), addr, dbPath, options())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path for conversation persistence")

	return cmd
}

func actionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the registered actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListActions(verbose)
		},
	}
}
