package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseAmount resolves a CLI amount into base units. Exactly one of the two
// forms may be set: baseUnits is an integer string, decimal a human amount
// scaled by the token's decimals.
func ParseAmount(baseUnits, decimal string, decimals int) (*big.Int, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	if baseUnits != "" && decimal != "" {
		return nil, clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		v, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok || v.Sign() < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--amount must be a non-negative integer string")
		}
		return v, nil
	}

	if !decimalPattern.MatchString(decimal) {
		return nil, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	return decimalToBaseUnits(decimal, decimals)
}

// FormatDecimal renders base units as a decimal string for display.
func FormatDecimal(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	s := baseUnits.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	intPart := decimal
	fracPart := ""
	if i := strings.IndexByte(decimal, '.'); i >= 0 {
		intPart = decimal[:i]
		fracPart = decimal[i+1:]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount has more than %d decimal places", decimals))
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))
	v, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return v, nil
}
