package classifier

import (
	"testing"

	"github.com/rpattn/opexledger/internal/domain"
)

func TestPredictIsDeterministic(t *testing.T) {
	result, err := Train(trainingSet())
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}

	inputs := []domain.ExpenseInput{
		{CuentaContable: "5203", IDProveedor: "99222", DescripcionGasto: "licencia software"},
		{CuentaContable: "5101", DescripcionGasto: "arriendo"},
		{DescripcionGasto: "texto sin relacion"},
		{},
	}
	for _, in := range inputs {
		first, err := result.Engine.Predict(in)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, err := result.Engine.Predict(in)
			if err != nil {
				t.Fatalf("Predict returned error: %v", err)
			}
			if again != first {
				t.Fatalf("prediction for %+v changed: %+v then %+v", in, first, again)
			}
		}
	}
}

func TestRetrainingGivesSamePredictions(t *testing.T) {
	a, err := Train(trainingSet())
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	b, err := Train(trainingSet())
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	in := domain.ExpenseInput{CuentaContable: "5301", DescripcionGasto: "pasajes"}
	pa, _ := a.Engine.Predict(in)
	pb, _ := b.Engine.Predict(in)
	if pa != pb {
		t.Fatalf("same training data gave %+v and %+v", pa, pb)
	}
}
