package candidates

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"menu-planner/internal/catalog"
	"menu-planner/internal/menuplan"
)

var (
	// ErrInvalidMealSlot is returned for a meal slot outside 1..3.
	ErrInvalidMealSlot = errors.New("invalid meal slot")
	// ErrInvalidDate is returned for a date that is not a real YYYY-MM-DD calendar day.
	ErrInvalidDate = errors.New("invalid date")
)

// Nominal order times in HHMM.
const (
	BreakfastTime = 1000
	LunchTime     = 1400
	DinnerTime    = 2000
)

// DateLayout is the layout of every date produced by this package.
const DateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)

// MealAndOrderTime resolves a meal slot to its meal name and nominal order time.
func MealAndOrderTime(slot menuplan.MealSlot) (string, int, error) {
	switch slot {
	case menuplan.Breakfast:
		return "breakfast", BreakfastTime, nil
	case menuplan.Lunch:
		return "lunch", LunchTime, nil
	case menuplan.Dinner:
		return "dinner", DinnerTime, nil
	}
	return "", 0, fmt.Errorf("%w: %d", ErrInvalidMealSlot, int(slot))
}

// WeekdayAndNextDate parses date and returns the following calendar day
// (zero padded) together with the weekday abbreviation of date itself.
func WeekdayAndNextDate(date string) (next string, weekday string, err error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", "", err
	}
	return t.AddDate(0, 0, 1).Format(DateLayout), t.Weekday().String()[:3], nil
}

// ParseDate parses a YYYY-M-D date, rejecting anything that is not a real
// calendar day.
func ParseDate(date string) (time.Time, error) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(date))
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range values, so 2025-02-29 becomes March 1st.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

// FilterAllergens drops every item carrying one of the comma separated
// allergens. Matching is exact and case sensitive.
func FilterAllergens(items []catalog.Item, allergensCSV string) []catalog.Item {
	excluded := make(map[string]struct{})
	for _, a := range strings.Split(allergensCSV, ",") {
		if a != "" {
			excluded[a] = struct{}{}
		}
	}

	kept := make([]catalog.Item, 0, len(items))
	for _, it := range items {
		if !hasAny(it.AllergenTags, excluded) {
			kept = append(kept, it)
		}
	}
	return kept
}

func hasAny(tags []string, set map[string]struct{}) bool {
	for _, tag := range tags {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}

// FilterOpenRestaurants keeps the restaurants open on weekday at orderTime.
// Hours are open/close pairs with inclusive bounds. An empty or odd-length
// list for the day excludes the restaurant.
func FilterOpenRestaurants(restaurants []catalog.Restaurant, weekday string, orderTime int) []catalog.Restaurant {
	kept := make([]catalog.Restaurant, 0, len(restaurants))
	for _, r := range restaurants {
		if IsOpenAt(r.Hours[weekday], orderTime) {
			kept = append(kept, r)
		}
	}
	return kept
}

// IsOpenAt reports whether orderTime falls inside one of the windows.
func IsOpenAt(hours []int, orderTime int) bool {
	if len(hours) == 0 || len(hours)%2 != 0 {
		return false
	}
	for i := 0; i < len(hours); i += 2 {
		if hours[i] <= orderTime && orderTime <= hours[i+1] {
			return true
		}
	}
	return false
}

// Permuter returns a random permutation of [0, n). *rand.Rand satisfies it.
type Permuter interface {
	Perm(n int) []int
}

type globalRand struct{}

func (globalRand) Perm(n int) []int { return rand.Perm(n) }

// DefaultPermuter uses the process-wide random source.
var DefaultPermuter Permuter = globalRand{}

// LimitScope returns indices into a candidate list of length n. When n
// exceeds maxChoices a uniform sample of maxChoices distinct indices is
// drawn, otherwise every index is returned. Indices are in ascending order.
func LimitScope(n, maxChoices int, perm Permuter) []int {
	if n <= 0 {
		return nil
	}
	if maxChoices < 0 || n <= maxChoices {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	if perm == nil {
		perm = DefaultPermuter
	}

	picked := slices.Clone(perm.Perm(n)[:maxChoices])
	slices.Sort(picked)
	return picked
}
