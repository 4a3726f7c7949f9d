package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// maxAmount is the exclusive upper bound for a plausible receipt total.
// Anything at or above it is assumed to be an order number, phone number
// or similar.
const maxAmount = 100000

// amountPattern matches monetary-shaped numbers: digit groups optionally
// separated by a thousands delimiter (dot or space), optionally followed by
// a two-digit fraction after dot or comma. Group 1 is the integer part,
// group 2 the fraction including its separator.
var amountPattern = regexp.MustCompile(`(\d{1,3}(?:[. ]\d{3})+|\d+)([.,]\d{2})?`)

// Amount scans recognized receipt text and returns the most likely total.
// The grand total is assumed to be the numerically largest monetary figure
// on the receipt. That is a best-effort guess: subtotals listed before
// discounts or multi-item receipts can beat the real total, and the caller
// is expected to let the user correct the value.
func Amount(text string) (float64, bool) {
	var (
		best  float64
		found bool
	)

	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		value, ok := parseAmount(m[1], m[2])
		if !ok {
			continue
		}
		if !found || value > best {
			best = value
			found = true
		}
	}

	return best, found
}

// parseAmount normalizes a matched token to a decimal value. The integer
// part has its thousands separators stripped, a comma fraction separator
// becomes a dot. Values outside (0, maxAmount) and non-finite values are
// rejected.
func parseAmount(integer, fraction string) (float64, bool) {
	integer = strings.NewReplacer(".", "", " ", "").Replace(integer)
	fraction = strings.ReplaceAll(fraction, ",", ".")

	value, err := strconv.ParseFloat(integer+fraction, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	if value <= 0 || value >= maxAmount {
		return 0, false
	}
	return value, true
}
