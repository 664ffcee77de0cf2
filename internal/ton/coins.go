package ton

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const nanoDecimals = 9

// ParseTON converts a decimal TON string ("5.5") into nanoTON. More than 9
// fractional digits are rejected.
func ParseTON(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid TON amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative TON amount %q", s)
	}
	nano := d.Shift(nanoDecimals)
	if !nano.Equal(nano.Truncate(0)) {
		return nil, fmt.Errorf("TON amount %q has more than %d decimals", s, nanoDecimals)
	}
	return nano.BigInt(), nil
}

// FormatTON renders nanoTON as a decimal TON string without trailing zeros.
func FormatTON(nano *big.Int) string {
	if nano == nil {
		return "0"
	}
	return decimal.NewFromBigInt(nano, -nanoDecimals).String()
}

// ParseNano parses a base-10 nanoTON string as stored in the database.
func ParseNano(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid nano amount %q", s)
	}
	return v, nil
}
