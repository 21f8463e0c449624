package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RobinDong/try-multimodal/dataset"
	"github.com/RobinDong/try-multimodal/model"
	"github.com/RobinDong/try-multimodal/optimizer"
	"github.com/RobinDong/try-multimodal/training"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var resumePath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Pretrain the image-text model on a caption manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, resumePath)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML training config (defaults apply when omitted)")
	cmd.Flags().StringVar(&resumePath, "resume", "", "checkpoint file to resume from")
	return cmd
}

func run(configPath, resumePath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	config, err := training.LoadTrainingConfig(configPath)
	if err != nil {
		return err
	}
	if config.ManifestPath == "" || config.TokenizerPath == "" {
		return fmt.Errorf("config must set manifest_path and tokenizer_path")
	}

	tokenizer, err := dataset.NewBPETokenizer(config.TokenizerPath)
	if err != nil {
		return err
	}

	modelConfig := model.DefaultConfig()
	modelConfig.Text.VocabSize = tokenizer.VocabSize()
	modelConfig.Seed = config.Seed
	m, err := model.NewCLIP(modelConfig)
	if err != nil {
		return err
	}

	captions, err := dataset.NewCaptionDataset(config.ManifestPath, config.DataRoot)
	if err != nil {
		return err
	}
	trainSet, evalSet, err := captions.Split(config.EvalRatio, rand.New(rand.NewSource(config.Seed)))
	if err != nil {
		return err
	}
	logger.Info("dataset loaded",
		"total", captions.Len(), "train", trainSet.Len(), "eval", evalSet.Len())

	builderConfig := dataset.DefaultBuilderConfig()
	builderConfig.SeqLen = modelConfig.Text.SeqLen
	builderConfig.ImageSize = modelConfig.Image.ImageSize
	builder, err := dataset.NewSampleBuilder(builderConfig, tokenizer, config.Seed)
	if err != nil {
		return err
	}

	loader, err := training.NewDataLoader(
		dataset.NewSampleDataset(trainSet, builder, true),
		config.BatchSize, config.NumWorkers, true, config.Seed)
	if err != nil {
		return err
	}
	source := training.NewResilientBatchSource(loader, logger)

	evalSamples, err := buildEvalSamples(evalSet, builder, logger)
	if err != nil {
		return err
	}
	evaluator, err := training.NewEvaluator(m, evalSamples, config.BatchSize, config.EvalIncludePartial)
	if err != nil {
		return err
	}

	optConfig := optimizer.DefaultAdamWConfig()
	optConfig.LearningRate = float32(config.LearningRate)
	optConfig.WeightDecay = float32(config.WeightDecay)
	opt, err := optimizer.NewAdamW(optConfig)
	if err != nil {
		return err
	}

	scheduler, err := training.NewWarmupCosineScheduler(
		config.LearningRate, config.MinLearningRate, config.WarmupIters, config.LRDecayIters)
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(config, m, opt, scheduler, source, evaluator, logger)
	if err != nil {
		return err
	}
	if resumePath != "" {
		if err := trainer.Resume(resumePath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := trainer.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// buildEvalSamples materializes the evaluation split up front, with token
// masking applied so evaluation measures the same reconstruction objective as
// training. The builder's seeded rng keeps the masks stable across runs.
// Unreadable samples are dropped with a warning so one bad file cannot block
// every evaluation pass.
func buildEvalSamples(evalSet *dataset.CaptionDataset, builder *dataset.SampleBuilder, logger *slog.Logger) ([]model.Sample, error) {
	samples := make([]model.Sample, 0, evalSet.Len())
	for i := 0; i < evalSet.Len(); i++ {
		entry, err := evalSet.Entry(i)
		if err != nil {
			return nil, err
		}
		sample, err := builder.Build(entry, true)
		if err != nil {
			logger.Warn("dropping unreadable eval sample", "path", entry.ImagePath, "error", err)
			continue
		}
		samples = append(samples, sample)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no readable evaluation samples")
	}
	return samples, nil
}
