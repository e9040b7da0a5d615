package catalog

import (
	"strings"
)

// Restaurant statuses as stored in the catalog.
const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
)

// Item is a menu item snapshot.
type Item struct {
	ID           int
	RestaurantID int
	Name         string
	Description  string
	Price        int // cents
	Calories     int
	AllergenTags []string
	InStock      bool
}

// WeeklyHours maps a weekday abbreviation (Mon..Sun) to alternating
// open/close HHMM boundaries, e.g. [1100, 1400, 1700, 2200].
type WeeklyHours map[string][]int

// Restaurant is a restaurant snapshot with its weekly operating hours.
type Restaurant struct {
	ID     int
	Name   string
	Hours  WeeklyHours
	Status string
}

// IsOpen reports whether the restaurant is open for business at all.
func (r Restaurant) IsOpen() bool {
	return strings.EqualFold(r.Status, StatusOpen)
}

// Snapshot is the read-only view of the catalog used for one planning run.
type Snapshot struct {
	Items       []Item
	Restaurants []Restaurant
}

// ItemsByID indexes the snapshot items.
func (s Snapshot) ItemsByID() map[int]Item {
	byID := make(map[int]Item, len(s.Items))
	for _, it := range s.Items {
		byID[it.ID] = it
	}
	return byID
}

// ParseAllergens splits a stored allergen column ("Gluten, Soy") into tags.
func ParseAllergens(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
