package domain

import (
	"fmt"
	"math"
	"strconv"
)

// PriceLevel is a single rung of the ladder: a price with the aggregate
// quantity resting there, the number of orders the venue reports at that
// price, and the wall-clock time it was last touched.
type PriceLevel struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Count       int64   `json:"count"`
	TimestampMs int64   `json:"timestampMs"`
}

// Update refreshes quantity, count and timestamp in place. Price never
// changes after construction — a level is keyed by its price, so a change
// in price is always a different level.
func (l *PriceLevel) Update(quantity float64, count int64, nowMs int64) {
	l.Quantity = quantity
	l.Count = count
	l.TimestampMs = nowMs
}

// ParsePriceQty parses the venue's string-typed [price, quantity] tuple into
// float64s, rejecting non-finite values as spec §4.1 requires.
func ParsePriceQty(priceStr, qtyStr string) (price, qty float64, err error) {
	price, err = strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid price %q: %w", priceStr, err)
	}
	qty, err = strconv.ParseFloat(qtyStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid quantity %q: %w", qtyStr, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0, 0, fmt.Errorf("non-finite price/quantity: %s/%s", priceStr, qtyStr)
	}
	return price, qty, nil
}
