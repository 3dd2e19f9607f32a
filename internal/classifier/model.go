package classifier

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jbrukh/bayesian"
)

// ErrTooFewClasses is returned when a head is trained on fewer than two labels.
var ErrTooFewClasses = errors.New("at least two distinct labels are required")

// Model is one classification head.
type Model struct {
	cl *bayesian.Classifier
}

// Document is one labelled training text.
type Document struct {
	Text  string
	Label string
}

// TrainModel learns a head from docs. Labels become classes in sorted order.
func TrainModel(docs []Document) (*Model, error) {
	seen := map[string]struct{}{}
	for _, doc := range docs {
		seen[doc.Label] = struct{}{}
	}
	if len(seen) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewClasses, len(seen))
	}

	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	classes := make([]bayesian.Class, len(labels))
	for i, label := range labels {
		classes[i] = bayesian.Class(label)
	}

	cl := bayesian.NewClassifier(classes...)
	for _, doc := range docs {
		cl.Learn(Tokens(doc.Text), bayesian.Class(doc.Label))
	}
	return &Model{cl: cl}, nil
}

// LoadModel reads a head written by Save.
func LoadModel(path string) (*Model, error) {
	cl, err := bayesian.NewClassifierFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	if len(cl.Classes) < 2 {
		return nil, fmt.Errorf("model %s: %w", path, ErrTooFewClasses)
	}
	return &Model{cl: cl}, nil
}

// Save writes the head to path.
func (m *Model) Save(path string) error {
	if err := m.cl.WriteToFile(path); err != nil {
		return fmt.Errorf("failed to write model %s: %w", path, err)
	}
	return nil
}

// Labels lists the classes the head can predict.
func (m *Model) Labels() []string {
	labels := make([]string, len(m.cl.Classes))
	for i, class := range m.cl.Classes {
		labels[i] = string(class)
	}
	return labels
}

// Predict returns the most likely label for text and its probability in [0,1].
// Ties go to the first class in label order.
func (m *Model) Predict(text string) (string, float64) {
	scores, _, _ := m.cl.LogScores(Tokens(text))

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return string(m.cl.Classes[best]), softmaxAt(scores, best)
}

func softmaxAt(scores []float64, idx int) float64 {
	top := scores[idx]
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - top)
	}
	if sum == 0 || math.IsNaN(sum) {
		return 0
	}
	return 1 / sum
}
