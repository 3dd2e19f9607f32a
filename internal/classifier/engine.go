package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
)

// Model file names inside the model directory.
const (
	GrupoModelFile    = "modelo_grupo.gob"
	SubgrupoModelFile = "modelo_subgrupo.gob"
)

// Predictor classifies expense lines.
type Predictor interface {
	Predict(in domain.ExpenseInput) (domain.Prediction, error)
	Ready() bool
}

// Engine pairs the Group and Subgroup heads. A zero Engine runs degraded and
// answers every prediction with domain.ErrModelsUnavailable.
type Engine struct {
	grupo    *Model
	subgrupo *Model
}

var _ Predictor = (*Engine)(nil)

// NewEngine builds an engine from trained heads.
func NewEngine(grupo, subgrupo *Model) *Engine {
	return &Engine{grupo: grupo, subgrupo: subgrupo}
}

// LoadEngine reads both heads from dir. Missing or unreadable files leave the
// engine degraded rather than failing, so the API can still serve reads.
func LoadEngine(dir string, log zerolog.Logger) *Engine {
	grupo, errGrupo := LoadModel(filepath.Join(dir, GrupoModelFile))
	subgrupo, errSubgrupo := LoadModel(filepath.Join(dir, SubgrupoModelFile))
	if err := errors.Join(errGrupo, errSubgrupo); err != nil {
		log.Warn().Err(err).Str("model_dir", dir).Msg("classifier models unavailable, running degraded")
		return &Engine{}
	}

	log.Info().
		Str("model_dir", dir).
		Int("grupos", len(grupo.Labels())).
		Int("subgrupos", len(subgrupo.Labels())).
		Msg("classifier models loaded")
	return NewEngine(grupo, subgrupo)
}

// Ready reports whether both heads are loaded.
func (e *Engine) Ready() bool {
	return e != nil && e.grupo != nil && e.subgrupo != nil
}

// Predict classifies one line. Confianza is the Group head's probability for
// its answer as a percentage with one decimal.
func (e *Engine) Predict(in domain.ExpenseInput) (domain.Prediction, error) {
	if !e.Ready() {
		return domain.Prediction{}, domain.ErrModelsUnavailable
	}
	text := FeatureText(in)
	grupo, p := e.grupo.Predict(text)
	subgrupo, _ := e.subgrupo.Predict(text)
	return domain.Prediction{
		Grupo:     grupo,
		Subgrupo:  subgrupo,
		Confianza: math.Round(p*1000) / 10,
	}, nil
}

// Save writes both heads into dir.
func (e *Engine) Save(dir string) error {
	if !e.Ready() {
		return domain.ErrModelsUnavailable
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	if err := e.grupo.Save(filepath.Join(dir, GrupoModelFile)); err != nil {
		return err
	}
	return e.subgrupo.Save(filepath.Join(dir, SubgrupoModelFile))
}
