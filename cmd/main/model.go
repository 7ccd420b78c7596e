package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/CTAG07/Haikoo/pkg/haiku"
	"github.com/CTAG07/Haikoo/pkg/markov"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the Markov models stored in the database",
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored models with their statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store *markov.Store, _ *slog.Logger) error {
			stats, err := store.GetStats(ctx)
			if err != nil {
				return err
			}
			summary := summarize(stats)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tSTATE SIZE\tRETAIN\tTRANSITIONS\tWEIGHT\tSTARTERS")
			for _, m := range summary.Models {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%t\t%d\t%g\t%d\n",
					m.Name, m.StateSize, m.Retain, m.TotalTransitions, m.TotalWeight, m.StartingTokens)
			}
			_, _ = fmt.Fprintf(tw, "\n%d tokens, %d states\n", summary.VocabSize, summary.StateCount)
			return tw.Flush()
		})
	},
}

var modelCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stateSize, _ := cmd.Flags().GetInt("state-size")
		retain, _ := cmd.Flags().GetBool("retain")
		return withStore(cmd, func(ctx context.Context, store *markov.Store, logger *slog.Logger) error {
			_, err := ensureModel(ctx, store, args[0], stateSize, retain)
			return err
		})
	},
}

var modelTrainCmd = &cobra.Command{
	Use:   "train NAME FILE...",
	Short: "Train a model on text files, creating it if needed",
	Long: `Train reads each FILE ("-" for stdin) as prose and adds its transitions to
the model NAME. Training the same text twice doubles its weights.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stateSize, _ := cmd.Flags().GetInt("state-size")
		retain, _ := cmd.Flags().GetBool("retain")
		return withStore(cmd, func(ctx context.Context, store *markov.Store, logger *slog.Logger) error {
			model, err := ensureModel(ctx, store, args[0], stateSize, retain)
			if err != nil {
				return err
			}
			for _, name := range args[1:] {
				if err = trainFile(ctx, store, model, name, cmd.InOrStdin()); err != nil {
					return err
				}
				logger.Info("Trained model", "model", model.Name, "file", name)
			}
			return nil
		})
	},
}

var modelImportCmd = &cobra.Command{
	Use:   "import NAME FILE",
	Short: "Merge a model JSON file into a stored model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store *markov.Store, logger *slog.Logger) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer func(f *os.File) {
				_ = f.Close()
			}(f)
			return store.ImportModel(ctx, args[0], f)
		})
	},
}

var modelExportCmd = &cobra.Command{
	Use:   "export NAME",
	Short: "Write a stored model as JSON",
	Long: `Export writes the model NAME in the model file format read by the generator's
models directory. Without --out the JSON goes to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return withStore(cmd, func(ctx context.Context, store *markov.Store, logger *slog.Logger) error {
			model, err := lookupModel(ctx, store, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				return store.ExportModel(ctx, model, cmd.OutOrStdout())
			}
			var buf bytes.Buffer
			if err = store.ExportModel(ctx, model, &buf); err != nil {
				return err
			}
			if err = atomic.WriteFile(out, &buf); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			logger.Info("Exported model", "model", model.Name, "path", out)
			return nil
		})
	},
}

var modelDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a stored model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store *markov.Store, _ *slog.Logger) error {
			model, err := lookupModel(ctx, store, args[0])
			if err != nil {
				return err
			}
			return store.RemoveModel(ctx, model)
		})
	},
}

var modelPruneCmd = &cobra.Command{
	Use:   "prune [NAME]",
	Short: "Drop rare transitions of a model, or rare tokens of every model with --vocabulary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minWeight, _ := cmd.Flags().GetFloat64("min-weight")
		vocabulary, _ := cmd.Flags().GetBool("vocabulary")
		if vocabulary == (len(args) == 1) {
			return errors.New("give either a model NAME or --vocabulary")
		}
		return withStore(cmd, func(ctx context.Context, store *markov.Store, _ *slog.Logger) error {
			if vocabulary {
				return store.VocabularyPrune(ctx, minWeight)
			}
			model, err := lookupModel(ctx, store, args[0])
			if err != nil {
				return err
			}
			return store.PruneModel(ctx, model, minWeight)
		})
	},
}

var modelPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Print the model presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		names := haiku.PresetNames()
		presets := make(map[string]haiku.ModelConfig, len(names))
		for _, name := range names {
			presets[name], _ = haiku.Preset(name)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(presets)
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelListCmd, modelCreateCmd, modelTrainCmd, modelImportCmd,
		modelExportCmd, modelDeleteCmd, modelPruneCmd, modelPresetsCmd)

	for _, c := range []*cobra.Command{modelCreateCmd, modelTrainCmd} {
		c.Flags().Int("state-size", 2, "Number of tokens in a state")
		c.Flags().Bool("retain", true, "Keep the training sentences with the model")
	}
	modelExportCmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	modelPruneCmd.Flags().Float64("min-weight", 1, "Remove entries whose weight is at most this value")
	modelPruneCmd.Flags().Bool("vocabulary", false, "Prune rare tokens across every model")
}

// withStore opens the configured database and runs fn against its store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *markov.Store, logger *slog.Logger) error) error {
	cm, logger, closer, err := loadRuntime(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		_ = closer.Close()
	}()

	ctx := cmd.Context()
	db, store, err := openStore(ctx, cm.Get().Server.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer func(db *sql.DB) {
		store.Close()
		_ = db.Close()
	}(db)

	return fn(ctx, store, logger)
}

func lookupModel(ctx context.Context, store *markov.Store, name string) (markov.ModelInfo, error) {
	model, err := store.GetModelInfo(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return model, fmt.Errorf("model %q does not exist", name)
	}
	return model, err
}

// ensureModel returns the model called name, creating it when missing. An
// existing model keeps its own state size.
func ensureModel(ctx context.Context, store *markov.Store, name string, stateSize int, retain bool) (markov.ModelInfo, error) {
	model, err := store.GetModelInfo(ctx, name)
	if err == nil {
		return model, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model, err
	}
	if err = store.InsertModel(ctx, markov.ModelInfo{Name: name, StateSize: stateSize, Retain: retain}); err != nil {
		return model, err
	}
	return store.GetModelInfo(ctx, name)
}

func trainFile(ctx context.Context, store *markov.Store, model markov.ModelInfo, name string, stdin io.Reader) error {
	if name == "-" {
		return store.Train(ctx, model, stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return store.Train(ctx, model, f)
}

// sortedModels returns the models ordered by id.
func sortedModels(models map[string]markov.ModelInfo) []markov.ModelInfo {
	list := make([]markov.ModelInfo, 0, len(models))
	for _, m := range models {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return list
}
