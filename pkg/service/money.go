package service

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/shopspring/decimal"
)

// parseFee reads a shipping fee sent either as a JSON number or as a numeric
// string. Absent or null means no fee.
func parseFee(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, apperr.ErrInvalidShippingValue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return decimal.Zero, nil
		}
	}

	fee, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, apperr.ErrInvalidShippingValue.Withf("invalid shipping value %q", text)
	}
	if fee.IsNegative() {
		return decimal.Zero, apperr.ErrInvalidShippingValue.Withf("shipping value cannot be negative")
	}
	return fee.Round(2), nil
}

func lineTotal(unitPrice float64, quantity int) decimal.Decimal {
	return decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
}

func toAmount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
