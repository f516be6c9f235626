package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"comms-intel-go/internal/config"
	"comms-intel-go/internal/dataset"
	"comms-intel-go/internal/insights"
	"comms-intel-go/internal/pipeline"
	"comms-intel-go/internal/store"
	"comms-intel-go/internal/textgen"
)

var (
	configPath string
	jsonOutput bool
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "commsintel",
		Short: "Customer communication intelligence pipeline",
		Long: `commsintel enriches raw customer communications (call audio,
support emails) with AI-derived annotations and exposes a flattened,
queryable view plus cross-record aggregate insights.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(ingestCmd(), runCmd(), insightsCmd(), statsCmd(), exportCmd(), failuresCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore() (config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, st, nil
}

func buildService(cfg config.Config) textgen.Service {
	if cfg.UseMockService {
		return textgen.NewMock()
	}
	return textgen.NewGateway(textgen.Options{
		GatewayURL:     cfg.GatewayURL,
		TranscribeURL:  cfg.TranscribeURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		RequestTimeout: cfg.RequestTimeout,
		RetryCeiling:   cfg.RetryCeiling,
	})
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [spreadsheet]",
		Short: "Load source communications from a spreadsheet into the record store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			path := cfg.DatasetPath
			if len(args) == 1 {
				path = args[0]
			}
			records, err := dataset.Load(path)
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}
			if err := st.UpsertSourceRecords(cmd.Context(), records); err != nil {
				return fmt.Errorf("store records: %w", err)
			}
			if jsonOutput {
				printJSON(map[string]int{"ingested": len(records)})
			} else {
				fmt.Printf("Ingested %d source records from %s\n", len(records), path)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full enrichment pipeline over the stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runner := pipeline.New(st, buildService(cfg), cfg.Concurrency)
			report, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(report)
				return nil
			}
			fmt.Printf("Run %s: %d sources, %d transcribed, %d annotations, %d extracted, %d flattened\n",
				report.RunID, report.Sources, report.Transcribed, report.Annotated,
				report.Extracted, report.Flattened)
			if len(report.Failures) > 0 {
				fmt.Printf("%d record failures:\n", len(report.Failures))
				for _, f := range report.Failures {
					fmt.Printf("  %s\n", f.Error())
				}
			}
			return nil
		},
	}
}

func insightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights <group>",
		Short: "Aggregate an insight over a named group (complaints, escalations, negative, high-priority)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			group, ok := insights.NamedGroup(args[0])
			if !ok {
				return fmt.Errorf("unknown group %q", args[0])
			}
			records, err := st.FlattenedRecords(cmd.Context(), store.Filter{})
			if err != nil {
				return err
			}
			insight, err := insights.NewSelector(buildService(cfg)).
				Build(cmd.Context(), records, group.Key, group.Predicate, group.Instruction)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(insight)
				return nil
			}
			if insight.Empty {
				fmt.Printf("No records match group %q\n", group.Key)
				return nil
			}
			fmt.Printf("Insight over %d records (%s):\n\n%s\n",
				len(insight.MemberRecordIDs), insight.GroupKey, insight.Narrative)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print summary statistics over the flattened view",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := st.ClassificationCounts(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(struct {
					store.SummaryStats
					Classifications map[string]int `json:"classifications"`
				}{stats, counts})
				return nil
			}
			fmt.Printf("Records: %d  Customers: %d\n", stats.TotalRecords, stats.TotalCustomers)
			fmt.Printf("Escalations: %d  High priority: %d\n", stats.EscalationsNeeded, stats.HighPriority)
			fmt.Printf("Sentiment: %d positive / %d negative, avg score %.2f\n",
				stats.PositiveSentiment, stats.NegativeSentiment, stats.AvgSentimentScore)
			if len(counts) > 0 {
				fmt.Println("By classification:")
				names := make([]string, 0, len(counts))
				for c := range counts {
					names = append(names, c)
				}
				sort.Strings(names)
				for _, c := range names {
					fmt.Printf("  %s: %d\n", c, counts[c])
				}
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump the stored structured-intelligence objects as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			intel, err := st.Intelligence(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(intel)
			return nil
		},
	}
}

func failuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failures <run-id>",
		Short: "List the records that failed in a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			failures, err := st.FailuresForRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(failures)
				return nil
			}
			if len(failures) == 0 {
				fmt.Println("No recorded failures")
				return nil
			}
			for _, f := range failures {
				fmt.Println(f.Error())
			}
			return nil
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
