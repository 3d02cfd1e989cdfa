// Package classify assigns order lines to station categories by normalized
// substring matching against short Greek stem lists. It is intentionally
// crude: no lemmatizer, no scoring, kitchen as the default.
package classify

import (
	"strings"
	"sync"

	"github.com/opentaverna/taverna/internal/greek"
	"github.com/opentaverna/taverna/internal/protocol"
)

// Base stem lists, kept short and intentionally partial.
var grillStems = []string{
	"μπριζολ", "παϊδ", "μπιφτεκ", "λουκαν", "χοιριν",
	"μπουτι", "σνιτσελ", "σουβλα", "παϊδάκ", "μπεικον",
}

var kitchenStems = []string{
	"φούρν", "τηγαν", "ραγού", "σουπα", "σάλτ", "μπεσαμ", "γκρατεν", "ομελετ", "παστ",
}

var drinkStems = []string{
	"μπύρ", "ουζ", "κρασ", "ποτο", "τσιπουρ", "αναψυκ", "νερ", "χυμ",
}

// Classified is one order line with its routed category.
type Classified struct {
	Text     string
	Category string
}

// MenuEntry extends the stem sets from a menu: item names classify to the
// category of their menu section.
type MenuEntry struct {
	Name     string
	Category string
}

// Classifier matches normalized lines against stem sets. Priority is
// grill, then drinks, then kitchen as the catch-all. Safe for concurrent
// use; AddMenu may run while orders classify.
type Classifier struct {
	mu      sync.RWMutex
	grill   map[string]bool
	drinks  map[string]bool
	kitchen map[string]bool
}

func New() *Classifier {
	return &Classifier{
		grill:   normalizeSet(grillStems),
		drinks:  normalizeSet(drinkStems),
		kitchen: normalizeSet(kitchenStems),
	}
}

// AddMenu folds menu item names into the stem sets.
func (c *Classifier) AddMenu(entries []MenuEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		name := greek.Normalize(e.Name)
		if name == "" {
			continue
		}
		switch categoryOf(e.Category) {
		case protocol.CategoryGrill:
			c.grill[name] = true
		case protocol.CategoryDrinks:
			c.drinks[name] = true
		default:
			c.kitchen[name] = true
		}
	}
}

// Classify splits multi-line order text (one dish per line) and routes
// each non-empty line to a category.
func (c *Classifier) Classify(orderText string) []Classified {
	var out []Classified
	for _, line := range strings.Split(orderText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Classified{Text: line, Category: c.classifyLine(line)})
	}
	return out
}

func (c *Classifier) classifyLine(line string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	norm := greek.Normalize(line)
	switch {
	case containsStem(norm, c.grill):
		return protocol.CategoryGrill
	case containsStem(norm, c.drinks):
		return protocol.CategoryDrinks
	default:
		return protocol.CategoryKitchen
	}
}

func containsStem(norm string, set map[string]bool) bool {
	if norm == "" {
		return false
	}
	for stem := range set {
		if strings.Contains(norm, stem) {
			return true
		}
	}
	return false
}

func normalizeSet(stems []string) map[string]bool {
	set := make(map[string]bool, len(stems))
	for _, s := range stems {
		if n := greek.Normalize(s); n != "" {
			set[n] = true
		}
	}
	return set
}

// categoryOf maps a free-form menu category onto a station category.
func categoryOf(raw string) string {
	s := greek.Normalize(raw)
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "grill") || strings.Contains(s, "ψητ") || strings.Contains(s, "σχαρ"):
		return protocol.CategoryGrill
	case strings.Contains(s, "drink") || strings.Contains(s, "beer") || strings.Contains(s, "wine") ||
		strings.Contains(s, "spirit") || strings.Contains(s, "soft") || strings.Contains(s, "μπυρ") ||
		strings.Contains(s, "κρασ") || strings.Contains(s, "ποτ") || strings.Contains(s, "αναψυκ"):
		return protocol.CategoryDrinks
	default:
		return protocol.CategoryKitchen
	}
}
