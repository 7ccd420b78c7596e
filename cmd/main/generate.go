package main

import (
	"errors"
	"fmt"

	"github.com/CTAG07/Haikoo/pkg/render"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate IMAGE",
	Short: "Generate a haiku inspired by an image",
	Long: `Generate describes IMAGE (a file path or an http(s) URL), composes a haiku
from the keywords and writes the image with the haiku drawn over it. The
result is printed as JSON. When generation fails the error haiku is drawn
instead and the command exits with an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringP("model", "m", "", "Model preset or source name (classic, frost, shakespeare, fusion, ...)")
	generateCmd.Flags().StringP("out", "o", "haikoo.png", "Path of the output image")
	generateCmd.Flags().StringSliceP("keywords", "k", nil, "Use these keywords instead of describing the image")
	generateCmd.Flags().Uint64("seed", 0, "Seed for reproducible output (0 picks a random seed)")
	generateCmd.Flags().Int("retries", -1, "Maximum retries when the syllable count misses (-1 uses the configured value)")
	generateCmd.Flags().String("thumbnail", "", "Also write a thumbnail of the output image to this path")
	generateCmd.Flags().Int("thumbnail-size", 128, "Bounding box of the thumbnail in pixels")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	// stdout carries the JSON result, so logs go to stderr.
	cm, logger, closer, err := loadRuntime(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		_ = closer.Close()
	}()

	cfg := cm.Get()
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Generator.Model, _ = flags.GetString("model")
	}
	if flags.Changed("seed") {
		cfg.Generator.Seed, _ = flags.GetUint64("seed")
	}
	if retries, _ := flags.GetInt("retries"); retries >= 0 {
		cfg.Generator.MaxRetries = retries
	}
	keywords, _ := flags.GetStringSlice("keywords")
	out, _ := flags.GetString("out")

	h, err := NewHaikoo(cmd.Context(), cfg, logger, nil, keywords)
	if err != nil {
		return err
	}
	defer h.Close()

	result := h.Generator().CreateImage(cmd.Context(), args[0], out)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), result.String())
	if !result.Success() {
		return errors.New(*result.ErrorMessage)
	}

	if thumb, _ := flags.GetString("thumbnail"); thumb != "" {
		size, _ := flags.GetInt("thumbnail-size")
		path, err := render.Thumbnail(out, thumb, size, size)
		if err != nil {
			return fmt.Errorf("failed to create thumbnail: %w", err)
		}
		logger.Info("Thumbnail written", "path", path)
	}
	return nil
}
