package main

import (
	flag "github.com/spf13/pflag"

	"github.com/rpattn/opexledger/internal/app"
	"github.com/rpattn/opexledger/internal/classifier"
)

func main() {
	configPath := flag.String("config", "", "config file or directory holding config.yaml (default $OPEX_CONFIG_PATH, then ./configs)")
	workbook := flag.String("workbook", "", "labelled xlsx workbook")
	sheet := flag.String("sheet", "", "sheet name (default: first sheet)")
	out := flag.String("out", "", "directory for the trained models (default classifier.model_dir)")
	flag.Parse()

	cfg, log, err := app.Setup(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *workbook == "" {
		log.Fatal().Msg("--workbook is required")
	}
	dir := *out
	if dir == "" {
		dir = cfg.Classifier.ModelDir
	}

	examples, err := classifier.ReadWorkbook(*workbook, *sheet)
	if err != nil {
		log.Fatal().Err(err).Str("workbook", *workbook).Msg("failed to read training data")
	}
	log.Info().Int("examples", len(examples)).Msg("training data loaded")

	result, err := classifier.Train(examples)
	if err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}
	if err := result.Engine.Save(dir); err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("failed to save models")
	}

	log.Info().
		Int("examples", result.Examples).
		Int("skipped", result.Skipped).
		Int("holdout", result.Holdout).
		Float64("grupo_accuracy", result.GrupoAccuracy).
		Float64("subgrupo_accuracy", result.SubgrupoAccuracy).
		Str("dir", dir).
		Msg("models saved")
}
