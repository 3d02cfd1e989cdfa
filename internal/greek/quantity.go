package greek

import (
	"regexp"
	"strconv"
	"strings"
)

// Line is the result of parsing a quantity/unit prefix off an order line,
// e.g. "2 σουβλάκια", "1κ παϊδάκια", "500ml ρακί".
type Line struct {
	Qty    float64
	HasQty bool
	Unit   string
	// Multiplier is the portion count the quantity translates to: equal to
	// Qty for most units, Qty/250 for milliliters.
	Multiplier float64
	// Item is the line with the quantity prefix removed.
	Item string
}

// Unit spellings accepted directly after the number (no space), longest
// variants first so "κιλο" wins over "κ".
var lineRe = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?)\s*(κιλα|κιλο|kg|κ|ml|λτ|lt|λ|l)?\s+(\S.*)$`)

// weightUnits are the kilogram spellings; their presence makes the item
// weight-based rather than count-based.
var weightUnits = map[string]bool{"kg": true, "κ": true, "κιλο": true, "κιλα": true}

const mlPerPortion = 250

// ParseLine splits an order line into quantity, unit and item text. A unit
// is only recognized when written directly after the number ("2λ κρασί"),
// otherwise the token is left as part of the item ("2 λ κρασί").
func ParseLine(line string) Line {
	trimmed := strings.TrimSpace(line)
	m := lineRe.FindStringSubmatch(trimmed)
	if m == nil {
		return Line{Multiplier: 1, Item: trimmed}
	}

	qty, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return Line{Multiplier: 1, Item: trimmed}
	}

	unit := strings.ToLower(m[2])
	mult := qty
	if unit == "ml" {
		mult = qty / mlPerPortion
	}

	// "2 λ κρασί": the regexp consumed spaces between number and unit, so
	// re-check adjacency against the original text.
	if unit != "" && !strings.HasPrefix(strings.ToLower(trimmed), m[1]+unit) {
		return Line{Qty: qty, HasQty: true, Multiplier: qty, Item: strings.TrimSpace(trimmed[len(m[1]):])}
	}

	return Line{Qty: qty, HasQty: true, Unit: unit, Multiplier: mult, Item: strings.TrimSpace(m[3])}
}

// IsWeightUnit reports whether the parsed unit denotes kilograms.
func IsWeightUnit(unit string) bool {
	return weightUnits[strings.ToLower(unit)]
}

var intRe = regexp.MustCompile(`\d+`)

// FirstInt extracts the first integer literal from free text. Aggregation
// uses it as the quantity fallback when an item carries no explicit qty.
func FirstInt(s string) (int, bool) {
	m := intRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
