package classifier

import (
	"strings"

	"github.com/rpattn/opexledger/internal/domain"
)

// FeatureText is the text both models are trained and queried on: account,
// provider id and description joined by one space and lower-cased. Parts are
// not trimmed; Tokens ignores runs of whitespace, so padding never changes
// the features.
func FeatureText(in domain.ExpenseInput) string {
	return strings.ToLower(in.CuentaContable + " " + in.IDProveedor + " " + in.DescripcionGasto)
}

// Tokens splits text into words and adjacent word pairs.
func Tokens(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(words)*2-1)
	tokens = append(tokens, words...)
	for i := 1; i < len(words); i++ {
		tokens = append(tokens, words[i-1]+"_"+words[i])
	}
	return tokens
}
