package config

import (
	"math/big"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
)

// units is ordered so that longer suffixes are tried first.
var units = []struct {
	name string
	exp  int32
}{
	{"finney", 15},
	{"szabo", 12},
	{"ether", 18},
	{"gwei", 9},
	{"mwei", 6},
	{"kwei", 3},
	{"wei", 0},
}

// ParseAmount parses an amount such as "1000", "8gwei", "0.5 ether" or "1e18"
// into wei. Fractions of a wei are rejected.
func ParseAmount(s string) (*big.Int, error) {
	return ParseUnits(s, 0)
}

// ParseUnits parses s as a decimal number of tokens with the given decimals.
// A trailing unit name overrides decimals.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, u := range units {
		if strings.HasSuffix(v, u.name) {
			v = strings.TrimSpace(strings.TrimSuffix(v, u.name))
			decimals = u.exp
			break
		}
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid amount", goerr.V("amount", s))
	}
	d = d.Shift(decimals)
	if d.IsNegative() {
		return nil, goerr.New("amount must not be negative", goerr.V("amount", s))
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, goerr.New("amount has more precision than the unit allows", goerr.V("amount", s), goerr.V("decimals", decimals))
	}
	return d.BigInt(), nil
}

// FormatUnits renders amount with the given decimals, trimming trailing zeros.
func FormatUnits(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount, -decimals).String()
}
