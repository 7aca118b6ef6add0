// Package validator holds the pure predicates the venue client runs against
// inbound messages before they are allowed to touch a book: well-formedness
// of price levels, diff-update and snapshot envelopes, and the sequence
// continuity rule. None of these functions have side effects or retain
// state — they are grounded on the teacher's
// provider/binance/depth-update-validator.go sequencing arithmetic,
// generalized to run on raw wire envelopes rather than an already-parsed
// domain.OrderBookUpdate.
package validator

import (
	"math"
	"strconv"

	"github.com/stratolabs/obmirror/internal/domain"
)

// IsValidPriceLevel reports whether a [price, quantity] wire tuple parses
// into a positive price and a non-negative quantity.
func IsValidPriceLevel(level domain.PriceLevelWire) bool {
	if len(level) != 2 {
		return false
	}
	price, err := strconv.ParseFloat(level[0], 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return false
	}
	qty, err := strconv.ParseFloat(level[1], 64)
	if err != nil || math.IsNaN(qty) || math.IsInf(qty, 0) || qty < 0 {
		return false
	}
	return true
}

// IsValidDiffUpdate reports whether a diff-update envelope is well-formed:
// the right event kind, a non-empty symbol, and every bid/ask tuple passing
// IsValidPriceLevel.
func IsValidDiffUpdate(kind string, symbol domain.Symbol, bids, asks []domain.PriceLevelWire) bool {
	if kind != "depthUpdate" {
		return false
	}
	if symbol.Normalize() == "" {
		return false
	}
	return allValid(bids) && allValid(asks)
}

// IsValidSnapshot reports whether a snapshot envelope is well-formed: a
// positive last-update-id and well-formed bid/ask lists.
func IsValidSnapshot(lastUpdateID int64, bids, asks []domain.PriceLevelWire) bool {
	if lastUpdateID <= 0 {
		return false
	}
	return allValid(bids) && allValid(asks)
}

func allValid(levels []domain.PriceLevelWire) bool {
	for _, l := range levels {
		if !IsValidPriceLevel(l) {
			return false
		}
	}
	return true
}

// SequenceOK is the venue's standard diff-continuity rule: the diff covers
// the expected next id. True iff U <= current+1 AND u >= current+1.
func SequenceOK(current, firstUpdateID, finalUpdateID int64) bool {
	return firstUpdateID <= current+1 && finalUpdateID >= current+1
}

// SanitizePriceLevel parses a wire tuple into numeric price/quantity. The
// caller must have already checked IsValidPriceLevel; SanitizePriceLevel
// assumes well-formedness and ignores parse errors on the (already
// validated) input.
func SanitizePriceLevel(level domain.PriceLevelWire) (price, quantity float64) {
	price, quantity, _ = domain.ParsePriceQty(level[0], level[1])
	return price, quantity
}
