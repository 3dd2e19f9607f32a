package sources

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignKind names how a source encodes the direction of an amount.
type SignKind string

const (
	// SignSigned amounts are already positive for expenses.
	SignSigned SignKind = "signed"
	// SignInverted amounts are positive for credits and must be negated.
	SignInverted SignKind = "inverted"
	// SignDebitCredit carries separate debit and credit columns.
	SignDebitCredit SignKind = "debit_credit"
	// SignDCFlag carries one amount and a debit/credit indicator.
	SignDCFlag SignKind = "dc_flag"
)

// SignRule turns a source's amount columns into a single signed valor,
// positive meaning expense.
type SignRule struct {
	Rule       SignKind `mapstructure:"rule"`
	Amount     string   `mapstructure:"amount"`
	Debit      string   `mapstructure:"debit"`
	Credit     string   `mapstructure:"credit"`
	Flag       string   `mapstructure:"flag"`
	DebitFlag  string   `mapstructure:"debit_flag"`
	CreditFlag string   `mapstructure:"credit_flag"`
}

// Validate checks that the columns the rule needs are present.
func (r SignRule) Validate() error {
	switch r.Rule {
	case SignSigned, SignInverted:
		if r.Amount == "" {
			return fmt.Errorf("sign rule %s needs amount", r.Rule)
		}
	case SignDebitCredit:
		if r.Debit == "" || r.Credit == "" {
			return fmt.Errorf("sign rule %s needs debit and credit", r.Rule)
		}
	case SignDCFlag:
		if r.Amount == "" || r.Flag == "" {
			return fmt.Errorf("sign rule %s needs amount and flag", r.Rule)
		}
	default:
		return fmt.Errorf("unknown sign rule %q", r.Rule)
	}
	return nil
}

func (r SignRule) debitFlag() string {
	if r.DebitFlag == "" {
		return "D"
	}
	return strings.ToUpper(r.DebitFlag)
}

func (r SignRule) creditFlag() string {
	if r.CreditFlag == "" {
		return "C"
	}
	return strings.ToUpper(r.CreditFlag)
}

// Apply computes valor from the raw columns. A value that cannot be parsed is
// passed through unchanged so the loader records it as malformed.
func (r SignRule) Apply(amount, debit, credit, flag *string) *string {
	switch r.Rule {
	case SignInverted:
		if amount == nil {
			return nil
		}
		d, err := parseAmount(*amount)
		if err != nil {
			return amount
		}
		return decimalText(d.Neg())
	case SignDebitCredit:
		dr, err := parseOptionalAmount(debit)
		if err != nil {
			return debit
		}
		cr, err := parseOptionalAmount(credit)
		if err != nil {
			return credit
		}
		return decimalText(dr.Sub(cr))
	case SignDCFlag:
		if flag == nil {
			return decimalText(decimal.Zero)
		}
		switch strings.ToUpper(strings.TrimSpace(*flag)) {
		case r.debitFlag():
			return amount
		case r.creditFlag():
			if amount == nil {
				return nil
			}
			d, err := parseAmount(*amount)
			if err != nil {
				return amount
			}
			return decimalText(d.Neg())
		default:
			return decimalText(decimal.Zero)
		}
	default:
		return amount
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

func parseOptionalAmount(raw *string) (decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	return parseAmount(*raw)
}

func decimalText(d decimal.Decimal) *string {
	s := d.String()
	return &s
}
