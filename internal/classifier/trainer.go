package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/opexledger/internal/domain"
)

// holdoutEvery sends every n-th example to the evaluation split.
const holdoutEvery = 5

// Example is one labelled expense line.
type Example struct {
	Input    domain.ExpenseInput
	Grupo    string
	Subgrupo string
}

// TrainResult carries the trained engine and its hold-out accuracy.
type TrainResult struct {
	Engine           *Engine
	Examples         int
	Skipped          int
	Holdout          int
	GrupoAccuracy    float64
	SubgrupoAccuracy float64
}

// Train fits both heads. Examples without a Group are skipped and a blank
// Subgroup is learned as domain.DefaultSubgroup. Accuracy is measured on a
// deterministic hold-out, then the final heads are fitted on everything.
func Train(examples []Example) (TrainResult, error) {
	var (
		clean  []Example
		result TrainResult
	)
	for _, ex := range examples {
		ex.Grupo = strings.TrimSpace(ex.Grupo)
		ex.Subgrupo = strings.TrimSpace(ex.Subgrupo)
		if ex.Grupo == "" {
			result.Skipped++
			continue
		}
		if ex.Subgrupo == "" {
			ex.Subgrupo = domain.DefaultSubgroup
		}
		clean = append(clean, ex)
	}
	if len(clean) == 0 {
		return result, errors.New("no labelled examples to train on")
	}
	result.Examples = len(clean)

	var train, holdout []Example
	for i, ex := range clean {
		if i%holdoutEvery == holdoutEvery-1 {
			holdout = append(holdout, ex)
			continue
		}
		train = append(train, ex)
	}
	result.Holdout = len(holdout)

	if len(holdout) > 0 {
		grupo, gErr := TrainModel(documents(train, pickGrupo))
		subgrupo, sErr := TrainModel(documents(train, pickSubgrupo))
		if gErr == nil {
			result.GrupoAccuracy = accuracy(grupo, holdout, pickGrupo)
		}
		if sErr == nil {
			result.SubgrupoAccuracy = accuracy(subgrupo, holdout, pickSubgrupo)
		}
	}

	grupo, err := TrainModel(documents(clean, pickGrupo))
	if err != nil {
		return result, fmt.Errorf("failed to train grupo model: %w", err)
	}
	subgrupo, err := TrainModel(documents(clean, pickSubgrupo))
	if err != nil {
		return result, fmt.Errorf("failed to train subgrupo model: %w", err)
	}
	result.Engine = NewEngine(grupo, subgrupo)
	return result, nil
}

func pickGrupo(ex Example) string    { return ex.Grupo }
func pickSubgrupo(ex Example) string { return ex.Subgrupo }

func documents(examples []Example, label func(Example) string) []Document {
	docs := make([]Document, len(examples))
	for i, ex := range examples {
		docs[i] = Document{Text: FeatureText(ex.Input), Label: label(ex)}
	}
	return docs
}

func accuracy(m *Model, examples []Example, label func(Example) string) float64 {
	if len(examples) == 0 {
		return 0
	}
	hits := 0
	for _, ex := range examples {
		if got, _ := m.Predict(FeatureText(ex.Input)); got == label(ex) {
			hits++
		}
	}
	return float64(hits) / float64(len(examples))
}
