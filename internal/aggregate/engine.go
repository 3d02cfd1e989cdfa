// Package aggregate derives the live "to prepare" summary for a station:
// near-duplicate item descriptions collapse into single rows with summed
// quantities or weights. The computation is a pure function of a reducer
// snapshot; rows are rebuilt wholesale on every call so they can never go
// stale against the tables they were derived from.
package aggregate

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/opentaverna/taverna/internal/greek"
	"github.com/opentaverna/taverna/internal/protocol"
	"github.com/opentaverna/taverna/internal/station"
)

// UnknownName is the placeholder for items whose display text normalizes
// to nothing. Such items still count; they are never dropped.
const UnknownName = "(unknown)"

// Row is one derived summary line: the total of one logical dish or drink
// across every table currently pending at the station.
type Row struct {
	// Key is the stem-prefix grouping key the row was bucketed under.
	Key string `json:"key"`
	// Name is the canonical display name: the shortest (first seen on
	// ties) of the contributing items' cleaned names.
	Name string `json:"name"`
	// Total is the summed quantity, tagged count or weight.
	Total protocol.Quantity `json:"total"`
	// Tables lists the contributing table numbers, ascending.
	Tables []int `json:"tables"`
}

// NameResolver maps a menu id to display attributes. Lookups degrade
// gracefully: a miss falls back to the item's raw text.
type NameResolver interface {
	DisplayName(menuID string) (string, bool)
}

// Engine computes aggregate rows for one station.
type Engine struct {
	routing station.Routing
	names   NameResolver
	coll    *collate.Collator
}

// NewEngine builds an engine with the station's routing predicate. The
// resolver may be nil.
func NewEngine(routing station.Routing, names NameResolver) *Engine {
	return &Engine{
		routing: routing,
		names:   names,
		coll:    collate.New(language.Greek),
	}
}

type bucket struct {
	key    string
	name   string
	total  protocol.Quantity
	tables map[int]bool
	order  int
}

// Totals recomputes the ordered row list from a snapshot. Given the same
// snapshot it always yields the same rows in the same order: rows sort by
// summed quantity descending, ties broken by Greek-collated display name.
func (e *Engine) Totals(tables []station.TableOrder) []Row {
	buckets := make(map[string]*bucket)
	seq := 0

	for _, to := range tables {
		for _, item := range to.Items {
			if item.Status != protocol.StatusPending || !e.routing.Accepts(item.Category) {
				continue
			}

			name := e.displayName(item)
			qty := portionOf(item)

			key := greek.StemKey(name)
			bucketKey := key
			if qty.IsWeight() {
				bucketKey += "|w"
			} else {
				bucketKey += "|c"
			}
			if item.MenuID != "" {
				// Distinct priced items that render identically must not
				// merge.
				bucketKey += "|" + item.MenuID
			}

			b, ok := buckets[bucketKey]
			if !ok {
				b = &bucket{key: key, name: name, total: qty, tables: map[int]bool{to.Table: true}, order: seq}
				buckets[bucketKey] = b
				seq++
				continue
			}
			b.total = b.total.Add(qty)
			b.tables[to.Table] = true
			if len(name) < len(b.name) {
				b.name = name
			}
		}
	}

	rows := make([]Row, 0, len(buckets))
	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	for _, b := range ordered {
		tables := make([]int, 0, len(b.tables))
		for t := range b.tables {
			tables = append(tables, t)
		}
		sort.Ints(tables)
		rows = append(rows, Row{Key: b.key, Name: b.name, Total: b.total, Tables: tables})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Total.Value() != rows[j].Total.Value() {
			return rows[i].Total.Value() > rows[j].Total.Value()
		}
		return e.coll.CompareString(rows[i].Name, rows[j].Name) < 0
	})
	return rows
}

var parenRe = regexp.MustCompile(`\([^)]*\)`)

// displayName resolves and cleans the text shown for an item: the menu
// name when available, otherwise the raw order line stripped of
// parenthetical annotations and bare quantity/unit tokens.
func (e *Engine) displayName(item protocol.OrderItem) string {
	base := item.MenuName
	if base == "" && item.MenuID != "" && e.names != nil {
		if resolved, ok := e.names.DisplayName(item.MenuID); ok {
			base = resolved
		}
	}
	if base == "" {
		base = item.Text
	}

	base = parenRe.ReplaceAllString(base, " ")

	var kept []string
	for _, tok := range strings.Fields(base) {
		if isQuantityToken(tok) {
			continue
		}
		kept = append(kept, strings.TrimFunc(tok, isPunct))
	}
	name := strings.Join(strings.Fields(strings.Join(kept, " ")), " ")
	if name == "" {
		return UnknownName
	}
	return name
}

var qtyTokenRe = regexp.MustCompile(`(?i)^(\d+([.,]\d+)?)(κιλα|κιλο|kg|κ|ml|λτ|lt|λ|l|x|χ)?$`)

func isQuantityToken(tok string) bool {
	return qtyTokenRe.MatchString(tok)
}

func isPunct(r rune) bool {
	return strings.ContainsRune(`.,;:!"'`, r)
}

// portionOf classifies an item as weight- or count-based. Weight wins when
// present; counts fall back to the first integer in the raw text and
// finally to one.
func portionOf(item protocol.OrderItem) protocol.Quantity {
	if item.WeightKg != nil {
		return protocol.Weight(*item.WeightKg)
	}
	if item.Qty != nil {
		return protocol.Count(*item.Qty)
	}
	if n, ok := greek.FirstInt(item.Text); ok {
		return protocol.Count(float64(n))
	}
	return protocol.Count(1)
}
