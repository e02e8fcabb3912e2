package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"edustat/internal/app"
	"edustat/internal/config"
	"edustat/internal/exporter"
	"edustat/internal/ingest"
	"edustat/internal/operations"
	"edustat/internal/statuspub"
	"edustat/pkg/contracts"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "edustat",
		Short:         "Assessment data cleaning and statistics service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "Path to edustat.yaml (default: ./edustat.yaml or ./configs/edustat.yaml)")
	pf.String("log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		serveCmd(),
		importCmd(),
		cleanCmd(),
		calculateCmd(),
		exportCmd(),
		statusCmd(),
		watchCmd(),
		versionCmd(),
	)
	return root
}

// loadConfig reads the configuration named by --config and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// withApp builds the application, runs fn and stops it again
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Stop(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the task queue and the ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a batch configuration and/or a response workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, _ := cmd.Flags().GetString("batch")
			batchConfig, _ := cmd.Flags().GetString("batch-config")
			responses, _ := cmd.Flags().GetString("responses")
			if batchConfig == "" && responses == "" {
				return fmt.Errorf("nothing to import: set --batch-config and/or --responses")
			}

			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				out := map[string]interface{}{}
				if batchConfig != "" {
					f, err := os.Open(batchConfig)
					if err != nil {
						return err
					}
					defer f.Close()
					bc, err := ingest.ImportBatchConfig(ctx, a.Store, f)
					if err != nil {
						return err
					}
					if batch == "" {
						batch = bc.BatchCode
					}
					out["batch_code"] = bc.BatchCode
					out["subjects"] = len(bc.Subjects)
					out["dimensions"] = len(bc.Dimensions)
				}
				if responses != "" {
					if batch == "" {
						return fmt.Errorf("--batch is required when importing responses without a batch config")
					}
					f, err := os.Open(responses)
					if err != nil {
						return err
					}
					defer f.Close()
					report, err := a.Importer.ImportWorkbook(ctx, f, batch)
					if err != nil {
						return err
					}
					out["batch_code"] = batch
					out["responses"] = report
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	f := cmd.Flags()
	f.StringP("batch", "b", "", "Batch code (defaults to the batch config's batch_code)")
	f.String("batch-config", "", "Batch configuration YAML")
	f.String("responses", "", "Response workbook (.xlsx)")
	return cmd
}

// runTask executes one task in-process and prints its final snapshot
func runTask(cmd *cobra.Command, req operations.TaskRequest) error {
	return withApp(cmd, func(ctx context.Context, a *app.Application) error {
		snap, err := a.Manager.Execute(ctx, req)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), snap); err != nil {
			return err
		}
		if snap.Status != operations.TaskStatusCompleted {
			return fmt.Errorf("task %s %s: %s", snap.TaskID, snap.Status, snap.Error)
		}
		return nil
	})
}

func cleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean the raw responses of a batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, _ := cmd.Flags().GetString("batch")
			return runTask(cmd, operations.TaskRequest{Kind: operations.KindCleaning, BatchCode: batch})
		},
	}
	cmd.Flags().StringP("batch", "b", "", "Batch code (required)")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate region or school statistics of a cleaned batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			batch, _ := f.GetString("batch")
			school, _ := f.GetString("school")
			req := operations.TaskRequest{Kind: operations.KindCalculation, BatchCode: batch, SchoolID: school}
			if f.Changed("include-schools") {
				include, _ := f.GetBool("include-schools")
				req.IncludeSchools = &include
			}
			return runTask(cmd, req)
		},
	}
	f := cmd.Flags()
	f.StringP("batch", "b", "", "Batch code (required)")
	f.String("school", "", "Calculate one school only")
	f.Bool("include-schools", true, "Fan out to every school after the region calculation")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export region and school statistics of a batch as CSV or XLSX",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			batch, _ := f.GetString("batch")
			output, _ := f.GetString("output")
			formatFlag, _ := f.GetString("format")
			if formatFlag == "" && strings.HasSuffix(output, ".xlsx") {
				formatFlag = string(exporter.FormatXLSX)
			}
			format, err := exporter.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if output == "-" {
					return a.Exporter.ExportBatch(ctx, batch, format, cmd.OutOrStdout())
				}
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := a.Exporter.ExportBatch(ctx, batch, format, file); err != nil {
					file.Close()
					os.Remove(output)
					return err
				}
				return file.Close()
			})
		},
	}
	f := cmd.Flags()
	f.StringP("batch", "b", "", "Batch code (required)")
	f.String("format", "", "csv or xlsx (default: from the output extension, else csv)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show one task, or list recent tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, _ := cmd.Flags().GetString("batch")
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if len(args) == 1 {
					if a.Publisher != nil {
						if snap, err := a.Publisher.Latest(ctx, args[0]); err == nil {
							return printJSON(cmd.OutOrStdout(), snap)
						}
					}
					snap, err := a.TaskStore.GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), snap)
				}
				tasks, err := a.TaskStore.ListTasks(ctx, operations.TaskFilter{BatchCode: batch, Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tasks)
			})
		},
	}
	cmd.Flags().StringP("batch", "b", "", "Only tasks of this batch")
	cmd.Flags().Int("limit", 20, "Maximum number of tasks listed")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream task snapshots published to Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("redis is disabled; set redis.enabled or EDUSTAT_REDIS_ENABLED")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pub, err := statuspub.New(ctx, cfg.Redis, nil)
			if err != nil {
				return err
			}
			defer pub.Close()

			out := cmd.OutOrStdout()
			err = pub.Watch(ctx, func(s *operations.TaskSnapshot) {
				fmt.Fprintf(out, "%s  %-11s %-9s %5.1f%%  %s %s\n",
					s.UpdatedAt.Format("15:04:05"), s.Kind, s.Status, s.Progress, s.BatchCode, strings.TrimSpace(s.SchoolID+" "+s.Message))
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), contracts.GetVersionInfo())
		},
	}
}
