package app

import (
	"context"
	"fmt"
	"strings"

	"menu-planner/internal/candidates"
	"menu-planner/internal/catalog"
	"menu-planner/internal/menuplan"
)

// MenuMeal is a planned meal resolved against the catalog.
type MenuMeal struct {
	MealSlot   menuplan.MealSlot
	ItemID     int
	Name       string
	Restaurant string
	Price      int
	Calories   int
	Available  bool
}

// MenuDay holds the meals of one date in breakfast, lunch, dinner order.
type MenuDay struct {
	Date    string
	Weekday string
	Meals   []MenuMeal
}

// MenuView is a user's plan ready for display.
type MenuView struct {
	UserID string
	Days   []MenuDay
}

// ShowMenu decodes the user's stored plan and resolves item names.
func (a *App) ShowMenu(ctx context.Context, userID string) (MenuView, error) {
	view := MenuView{UserID: userID}

	profile, err := a.planRepo.GetProfile(ctx, userID)
	if err != nil {
		return view, err
	}
	if profile == nil || profile.Plan == "" {
		return view, nil
	}

	snapshot, err := a.catalogRepo.LoadSnapshot(ctx)
	if err != nil {
		return view, err
	}

	view.Days = BuildMenuView(menuplan.Decode(profile.Plan), snapshot)
	return view, nil
}

// BuildMenuView resolves a decoded plan against a catalog snapshot. Items
// missing from the snapshot are kept and marked unavailable.
func BuildMenuView(plan menuplan.Plan, snapshot catalog.Snapshot) []MenuDay {
	items := snapshot.ItemsByID()
	restaurants := make(map[int]string, len(snapshot.Restaurants))
	for _, r := range snapshot.Restaurants {
		restaurants[r.ID] = r.Name
	}

	var days []MenuDay
	for _, date := range plan.Dates() {
		day := MenuDay{Date: date}
		if _, weekday, err := candidates.WeekdayAndNextDate(date); err == nil {
			day.Weekday = weekday
		}
		for _, e := range plan.ByMealOrder(date) {
			meal := MenuMeal{MealSlot: e.MealSlot, ItemID: e.ItemID}
			if it, ok := items[e.ItemID]; ok {
				meal.Name = it.Name
				meal.Restaurant = restaurants[it.RestaurantID]
				meal.Price = it.Price
				meal.Calories = it.Calories
				meal.Available = true
			} else {
				meal.Name = fmt.Sprintf("item #%d", e.ItemID)
			}
			day.Meals = append(day.Meals, meal)
		}
		days = append(days, day)
	}
	return days
}

// String renders the menu as plain text, one date per block.
func (v MenuView) String() string {
	if len(v.Days) == 0 {
		return "No meals planned yet."
	}

	var b strings.Builder
	for i, day := range v.Days {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%s)\n", day.Date, day.Weekday)
		for _, m := range day.Meals {
			if !m.Available {
				fmt.Fprintf(&b, "  %s: %s (unavailable)\n", m.MealSlot, m.Name)
				continue
			}
			fmt.Fprintf(&b, "  %s: %s", m.MealSlot, m.Name)
			if m.Restaurant != "" {
				fmt.Fprintf(&b, " @ %s", m.Restaurant)
			}
			fmt.Fprintf(&b, " - $%d.%02d, %d kcal\n", m.Price/100, m.Price%100, m.Calories)
		}
	}
	return b.String()
}
