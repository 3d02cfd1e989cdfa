package aggregate

import (
	"reflect"
	"testing"
	"time"

	"github.com/opentaverna/taverna/internal/protocol"
	"github.com/opentaverna/taverna/internal/station"
)

type staticResolver map[string]string

func (r staticResolver) DisplayName(menuID string) (string, bool) {
	name, ok := r[menuID]
	return name, ok
}

func kitchenEngine(names NameResolver) *Engine {
	return NewEngine(station.NewRouting(protocol.CategoryKitchen, protocol.CategoryDrinks), names)
}

func pending(id string, table int, text string) protocol.OrderItem {
	return protocol.OrderItem{
		ID:        id,
		Table:     table,
		Category:  protocol.CategoryKitchen,
		Status:    protocol.StatusPending,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func tableOf(table int, items ...protocol.OrderItem) station.TableOrder {
	return station.TableOrder{Table: table, Items: items}
}

func TestTotalsMergesInflectedDuplicates(t *testing.T) {
	e := kitchenEngine(nil)

	beer2 := pending("a", 3, "2 μπύρες")
	beer2.Category = protocol.CategoryDrinks
	qty2 := 2.0
	beer2.Qty = &qty2

	beer1 := pending("b", 5, "1 μπύρα")
	beer1.Category = protocol.CategoryDrinks
	qty1 := 1.0
	beer1.Qty = &qty1

	rows := e.Totals([]station.TableOrder{tableOf(3, beer2), tableOf(5, beer1)})

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.Total.IsWeight() || row.Total.Value() != 3 {
		t.Errorf("Total = %+v, want count 3", row.Total)
	}
	if row.Name != "μπύρα" {
		t.Errorf("Name = %q, want shortest contributing name %q", row.Name, "μπύρα")
	}
	if !reflect.DeepEqual(row.Tables, []int{3, 5}) {
		t.Errorf("Tables = %v, want [3 5]", row.Tables)
	}
}

func TestTotalsSeparatesWeightFromCount(t *testing.T) {
	e := kitchenEngine(nil)

	byWeight := pending("a", 3, "1,5κιλο μπριζόλες")
	kg := 1.5
	byWeight.WeightKg = &kg

	byCount := pending("b", 4, "2 μπριζόλες")
	qty := 2.0
	byCount.Qty = &qty

	rows := e.Totals([]station.TableOrder{tableOf(3, byWeight), tableOf(4, byCount)})

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (weight and count must not merge)", len(rows))
	}

	var sawWeight, sawCount bool
	for _, row := range rows {
		if row.Total.IsWeight() {
			sawWeight = true
			if row.Total.Value() != 1.5 {
				t.Errorf("weight row Total = %v, want 1.5", row.Total.Value())
			}
		} else {
			sawCount = true
			if row.Total.Value() != 2 {
				t.Errorf("count row Total = %v, want 2", row.Total.Value())
			}
		}
	}
	if !sawWeight || !sawCount {
		t.Errorf("missing a bucket kind: weight=%v count=%v", sawWeight, sawCount)
	}
}

func TestTotalsPartitionsByMenuID(t *testing.T) {
	e := kitchenEngine(nil)

	a := pending("a", 3, "σαλάτα")
	a.MenuID = "m-1"
	b := pending("b", 3, "σαλάτα")
	b.MenuID = "m-2"

	rows := e.Totals([]station.TableOrder{tableOf(3, a, b)})

	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2 (distinct menu ids must not merge)", len(rows))
	}
}

func TestTotalsSkipsNonPendingAndForeignItems(t *testing.T) {
	e := kitchenEngine(nil)

	done := pending("a", 3, "σαλάτα")
	done.Status = protocol.StatusDone

	foreign := pending("b", 3, "μπριζόλα")
	foreign.Category = protocol.CategoryGrill

	rows := e.Totals([]station.TableOrder{tableOf(3, done, foreign, pending("c", 3, "σούπα"))})

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Name != "σούπα" {
		t.Errorf("Name = %q, want %q", rows[0].Name, "σούπα")
	}
}

func TestTotalsSortsByQuantityThenName(t *testing.T) {
	e := kitchenEngine(nil)

	one := pending("a", 3, "1 τζατζίκι")
	q1 := 1.0
	one.Qty = &q1

	three := pending("b", 3, "3 σαλάτες")
	q3 := 3.0
	three.Qty = &q3

	alsoOne := pending("c", 3, "1 αγκινάρες")
	q1b := 1.0
	alsoOne.Qty = &q1b

	rows := e.Totals([]station.TableOrder{tableOf(3, one, three, alsoOne)})

	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Name != "σαλάτες" {
		t.Errorf("rows[0] = %q, want the largest total first", rows[0].Name)
	}
	// Ties sort by Greek collation: αγκινάρες before τζατζίκι.
	if rows[1].Name != "αγκινάρες" || rows[2].Name != "τζατζίκι" {
		t.Errorf("tie order = %q, %q, want αγκινάρες, τζατζίκι", rows[1].Name, rows[2].Name)
	}
}

func TestTotalsIsDeterministic(t *testing.T) {
	e := kitchenEngine(nil)

	items := []protocol.OrderItem{
		pending("a", 3, "2 μπύρες"),
		pending("b", 3, "σαλάτα"),
		pending("c", 5, "1 μπύρα"),
		pending("d", 5, "πατάτες τηγανητές"),
	}
	tables := []station.TableOrder{tableOf(3, items[0], items[1]), tableOf(5, items[2], items[3])}

	first := e.Totals(tables)
	for i := 0; i < 10; i++ {
		if got := e.Totals(tables); !reflect.DeepEqual(got, first) {
			t.Fatalf("Totals() varied between calls: %+v vs %+v", got, first)
		}
	}
}

func TestTotalsFallsBackToTextQuantity(t *testing.T) {
	e := kitchenEngine(nil)

	// No explicit qty; the leading integer in the text is the count.
	rows := e.Totals([]station.TableOrder{tableOf(3, pending("a", 3, "2 μπύρες"))})

	if len(rows) != 1 || rows[0].Total.Value() != 2 {
		t.Fatalf("rows = %+v, want one row with count 2", rows)
	}
}

func TestTotalsUnknownPlaceholder(t *testing.T) {
	e := kitchenEngine(nil)

	// Text that normalizes to nothing still counts.
	rows := e.Totals([]station.TableOrder{tableOf(3, pending("a", 3, "2"))})

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Name != UnknownName {
		t.Errorf("Name = %q, want %q", rows[0].Name, UnknownName)
	}
	if rows[0].Total.Value() != 2 {
		t.Errorf("Total = %v, want 2", rows[0].Total.Value())
	}
}

func TestTotalsResolvesMenuNames(t *testing.T) {
	e := kitchenEngine(staticResolver{"m-1": "Χωριάτικη σαλάτα"})

	item := pending("a", 3, "σαλατα χωρις κρεμμυδι")
	item.MenuID = "m-1"

	rows := e.Totals([]station.TableOrder{tableOf(3, item)})

	if len(rows) != 1 || rows[0].Name != "Χωριάτικη σαλάτα" {
		t.Fatalf("rows = %+v, want resolved menu name", rows)
	}
}

func TestTotalsStripsAnnotations(t *testing.T) {
	e := kitchenEngine(nil)

	rows := e.Totals([]station.TableOrder{tableOf(3, pending("a", 3, "2 μπύρες (παγωμένες)"))})

	if len(rows) != 1 || rows[0].Name != "μπύρες" {
		t.Fatalf("rows = %+v, want name without quantity and parenthetical", rows)
	}
}

// Full inbound path: an init snapshot lands in the reducer, one item
// completes, and the totals derive from what is left.
func TestTotalsTrackReducerThroughCompletion(t *testing.T) {
	routing := station.NewRouting(protocol.CategoryKitchen)
	reducer := station.NewReducer(protocol.CategoryKitchen, routing, nil)
	e := NewEngine(routing, nil)

	qty2 := 2.0
	souvlaki := protocol.OrderItem{
		ID: "a", Table: 3, Category: protocol.CategoryKitchen,
		Status: protocol.StatusPending, Text: "2 σουβλάκι", Qty: &qty2,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	fries := protocol.OrderItem{
		ID: "b", Table: 3, Category: protocol.CategoryKitchen,
		Status: protocol.StatusPending, Text: "πατάτες",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
	}

	reducer.Apply(protocol.Message{Action: protocol.ActionInit, Items: []protocol.OrderItem{souvlaki, fries}})

	done := souvlaki
	done.Status = protocol.StatusDone
	reducer.Apply(protocol.Message{Action: protocol.ActionUpdate, Item: &done})

	snap := reducer.Snapshot()
	if len(snap) != 1 || len(snap[0].Items) != 1 || snap[0].Items[0].Text != "πατάτες" {
		t.Fatalf("snapshot after completion = %+v, want only the fries", snap)
	}

	rows := e.Totals(snap)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Total.IsWeight() || rows[0].Total.Value() != 1 {
		t.Errorf("total = %+v, want count 1", rows[0].Total)
	}
	if !reflect.DeepEqual(rows[0].Tables, []int{3}) {
		t.Errorf("tables = %v, want [3]", rows[0].Tables)
	}
}
