package menuplan

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MealSlot identifies a meal within a day.
type MealSlot int

const (
	Breakfast MealSlot = 1
	Lunch     MealSlot = 2
	Dinner    MealSlot = 3
)

// legacySlot is assumed for tokens written before meal slots existed.
const legacySlot = Dinner

const dateLayout = "2006-01-02"

// Valid reports whether s is one of the three known meal slots.
func (s MealSlot) Valid() bool {
	return s >= Breakfast && s <= Dinner
}

func (s MealSlot) String() string {
	switch s {
	case Breakfast:
		return "breakfast"
	case Lunch:
		return "lunch"
	case Dinner:
		return "dinner"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Entry is a single assignment of a catalog item to a meal slot.
type Entry struct {
	ItemID   int      `json:"item_id"`
	MealSlot MealSlot `json:"meal_slot"`
}

// Plan is the decoded view of an encoded menu plan, keyed by YYYY-MM-DD.
// Entries for a date keep the order in which their tokens appeared.
type Plan map[string][]Entry

var tokenPattern = regexp.MustCompile(`\[\s*([^,\[\]]*?)\s*,\s*([^,\[\]]*?)\s*(?:,\s*(\d+)\s*)?\]`)

// Decode parses every well-formed token found in text. Tokens with a bad
// date, a non-integer item id or an unknown meal slot are skipped, and a
// second token for an already filled (date, slot) is ignored.
func Decode(text string) Plan {
	plan := Plan{}
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		date := m[1]
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}

		itemID, err := strconv.Atoi(m[2])
		if err != nil || itemID < 0 || strings.HasPrefix(m[2], "+") {
			continue
		}

		slot := legacySlot
		if m[3] != "" {
			n, err := strconv.Atoi(m[3])
			if err != nil {
				continue
			}
			slot = MealSlot(n)
		}
		if !slot.Valid() {
			continue
		}

		if plan.Has(date, slot) {
			continue
		}
		plan[date] = append(plan[date], Entry{ItemID: itemID, MealSlot: slot})
	}
	return plan
}

// Token renders a single plan token.
func Token(date string, itemID int, slot MealSlot) string {
	return fmt.Sprintf("[%s,%d,%d]", date, itemID, int(slot))
}

// Append adds a token to the end of an encoded plan. Existing text is kept
// exactly as it is.
func Append(text, date string, itemID int, slot MealSlot) string {
	token := Token(date, itemID, slot)
	if text == "" {
		return token
	}
	return text + "," + token
}

// Has reports whether the plan already holds an entry for date and slot.
func (p Plan) Has(date string, slot MealSlot) bool {
	_, ok := p.Lookup(date, slot)
	return ok
}

// Lookup returns the entry stored for date and slot.
func (p Plan) Lookup(date string, slot MealSlot) (Entry, bool) {
	for _, e := range p[date] {
		if e.MealSlot == slot {
			return e, true
		}
	}
	return Entry{}, false
}

// Add records an entry in the decoded view. It returns false when the slot is
// already taken.
func (p Plan) Add(date string, e Entry) bool {
	if p.Has(date, e.MealSlot) {
		return false
	}
	p[date] = append(p[date], e)
	return true
}

// Dates returns the planned dates in chronological order.
func (p Plan) Dates() []string {
	dates := make([]string, 0, len(p))
	for d := range p {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// ByMealOrder returns the entries for date sorted breakfast first.
func (p Plan) ByMealOrder(date string) []Entry {
	entries := append([]Entry(nil), p[date]...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].MealSlot < entries[j].MealSlot
	})
	return entries
}

// ParseMealSlots reads a comma separated list of meal names or numbers, as
// in "breakfast,dinner" or "1,3". Numbers are returned unchecked.
func ParseMealSlots(s string) ([]MealSlot, error) {
	var slots []MealSlot
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		switch part {
		case "":
			continue
		case "breakfast", "b":
			slots = append(slots, Breakfast)
		case "lunch", "l":
			slots = append(slots, Lunch)
		case "dinner", "d":
			slots = append(slots, Dinner)
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("unknown meal slot %q", part)
			}
			slots = append(slots, MealSlot(n))
		}
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no meal slots in %q", s)
	}
	return slots, nil
}
