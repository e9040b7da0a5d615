package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"menu-planner/internal/app"
	"menu-planner/internal/candidates"
	"menu-planner/internal/catalog"
	"menu-planner/internal/menuplan"
	"menu-planner/internal/metrics"
	"menu-planner/internal/planner"
)

const maxPreferencesLen = 2000

const planUsage = "Usage: /plan <YYYY-MM-DD> <meals> [days]\n" +
	"meals is a comma separated list of breakfast, lunch and dinner (or 1, 2, 3)."

const helpText = "Commands:\n" +
	"/plan <YYYY-MM-DD> <meals> [days] - fill the missing meals\n" +
	"/menu - show your planned meals\n" +
	"/prefs <text> - set your food preferences\n" +
	"/allergens <tags> - set allergens to avoid, comma separated (none to clear)"

// parsePlanArgs reads "<date> <meals> [days]".
func parsePlanArgs(args string) (app.UpdateInput, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 || len(fields) > 3 {
		return app.UpdateInput{}, errors.New("expected a start date, meals and an optional number of days")
	}

	slots, err := menuplan.ParseMealSlots(fields[1])
	if err != nil {
		return app.UpdateInput{}, err
	}

	in := app.UpdateInput{StartDate: fields[0], MealSlots: slots, NumberOfDays: 1}
	if len(fields) == 3 {
		days, err := strconv.Atoi(fields[2])
		if err != nil || days < 1 {
			return app.UpdateInput{}, fmt.Errorf("invalid number of days %q", fields[2])
		}
		in.NumberOfDays = days
	}
	return in, nil
}

func parsePreferences(text string) (string, error) {
	prefs := strings.Join(strings.Fields(text), " ")
	if len(prefs) > maxPreferencesLen {
		return "", fmt.Errorf("preferences are too long (max %d characters)", maxPreferencesLen)
	}
	return prefs, nil
}

// normalizeAllergens trims each tag and joins them with bare commas, the
// form the allergen filter matches exactly. "none" clears the list.
func normalizeAllergens(text string) string {
	if strings.EqualFold(strings.TrimSpace(text), "none") {
		return ""
	}
	return strings.Join(catalog.ParseAllergens(text), ",")
}

func formatUpdate(res *planner.UpdateResult, view app.MenuView) string {
	var b strings.Builder
	if !res.Changed() {
		b.WriteString("Nothing to add, those meals are already planned.\n\n")
	} else {
		fmt.Fprintf(&b, "Added %d meal(s).\n\n", len(res.Added))
	}
	b.WriteString(view.String())
	return strings.TrimRight(b.String(), "\n")
}

func describeError(err error) string {
	var exhausted *planner.ExhaustedError
	switch {
	case errors.Is(err, candidates.ErrInvalidMealSlot), errors.Is(err, candidates.ErrInvalidDate):
		return "Invalid request: " + err.Error()
	case errors.As(err, &exhausted) && exhausted.NoCandidates:
		return "No open restaurant has a suitable item for that meal."
	case errors.As(err, &exhausted):
		return fmt.Sprintf("Could not pick a meal after %d attempts, please try again later.", exhausted.Attempts)
	case errors.Is(err, planner.ErrInjectionDetected):
		return "The suggestion was rejected, please try again."
	default:
		return "Something went wrong, please try again later."
	}
}

func formatMetrics(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var b strings.Builder
	b.WriteString("Usage & Health Report\n\n")

	b.WriteString("Recent LLM activity\n")
	if len(usage) == 0 {
		b.WriteString("  no data yet\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&b, "  %s: %d tokens (%d execs, avg %dms)\n",
			d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution, d.AvgLatencyMS)
	}

	b.WriteString("\nSystem health\n")
	fmt.Fprintf(&b, "  RAM: %dMB (alloc) / %dMB (sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&b, "  Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&b, "  Uptime: %s\n", health.Uptime)
	fmt.Fprintf(&b, "  Disk data: %s", health.DataDiskSize)
	return b.String()
}
