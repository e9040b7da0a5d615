package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"menu-planner/internal/app"
	"menu-planner/internal/candidates"
	"menu-planner/internal/catalog"
	"menu-planner/internal/menuplan"

	"github.com/spf13/cobra"
)

var (
	planDate      string
	planMeals     string
	planDays      int
	planPrefs     string
	planAllergens string

	profilePrefs     string
	profileAllergens string

	usageDays int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Fill the missing meals of the plan",
	Long: `Fill every requested meal that the plan does not hold yet.

Meals already planned are kept, so running the same command twice adds nothing
the second time. Preferences and allergens default to the stored profile.`,
	Example: "  menu-planner plan --date 2025-10-14 --meals breakfast,dinner --days 7",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		slots, err := menuplan.ParseMealSlots(planMeals)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApplication(ctx, true)
		if err != nil {
			return err
		}

		res, err := a.UpdateUserMenu(ctx, userID, app.UpdateInput{
			StartDate:    planDate,
			MealSlots:    slots,
			NumberOfDays: planDays,
			Preferences:  planPrefs,
			Allergens:    planAllergens,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !res.Changed() {
			fmt.Fprintln(out, "Nothing to add, those meals are already planned.")
		}
		for _, added := range res.Added {
			fmt.Fprintf(out, "added %s %s: item %d (%d attempts)\n", added.Date, added.MealSlot, added.ItemID, added.Attempts)
		}
		fmt.Fprintf(out, "plan: %s\n", res.Plan)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the planned meals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApplication(ctx, false)
		if err != nil {
			return err
		}
		view, err := a.ShowMenu(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), view.String())
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change preferences and allergens",
	Example: "  menu-planner profile --prefs \"high protein\" --allergens \"Peanuts, Shellfish\"\n" +
		"  menu-planner profile --allergens \"\"",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApplication(ctx, false)
		if err != nil {
			return err
		}

		var update app.ProfileUpdate
		if cmd.Flags().Changed("prefs") {
			update.Preferences = &profilePrefs
		}
		if cmd.Flags().Changed("allergens") {
			allergens := strings.Join(catalog.ParseAllergens(profileAllergens), ",")
			update.Allergens = &allergens
		}

		profile, err := a.GetProfile(ctx, userID)
		if update.Preferences != nil || update.Allergens != nil {
			profile, err = a.UpdateProfile(ctx, userID, update)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:        %s\n", profile.UserID)
		fmt.Fprintf(out, "preferences: %s\n", profile.Preferences)
		fmt.Fprintf(out, "allergens:   %s\n", profile.Allergens)
		return nil
	},
}

var importCatalogCmd = &cobra.Command{
	Use:   "import-catalog <seed.yaml>",
	Short: "Load restaurants and menu items from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApplication(ctx, false)
		if err != nil {
			return err
		}
		restaurants, items, err := a.ImportCatalog(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d restaurants and %d items\n", restaurants, items)
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report daily language model usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApplication(ctx, false)
		if err != nil {
			return err
		}
		usage, err := a.DailyUsage(ctx, usageDays)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DAY\tPROMPT\tCOMPLETION\tCALLS\tAVG LATENCY")
		for _, d := range usage {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%dms\n", d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution, d.AvgLatencyMS)
		}
		return w.Flush()
	},
}

var metricsCleanupCmd = &cobra.Command{
	Use:   "metrics-cleanup",
	Short: "Delete execution metrics older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApplication(ctx, false)
		if err != nil {
			return err
		}
		removed, err := a.CleanupMetrics(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d metric rows\n", removed)
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planDate, "date", time.Now().Format(candidates.DateLayout), "first date to plan (YYYY-MM-DD)")
	planCmd.Flags().StringVar(&planMeals, "meals", "breakfast,lunch,dinner", "meals to fill, comma separated")
	planCmd.Flags().IntVar(&planDays, "days", 1, "number of consecutive days")
	planCmd.Flags().StringVar(&planPrefs, "prefs", "", "preferences for this run only")
	planCmd.Flags().StringVar(&planAllergens, "allergens", "", "allergens to avoid for this run only")

	profileCmd.Flags().StringVar(&profilePrefs, "prefs", "", "food preferences")
	profileCmd.Flags().StringVar(&profileAllergens, "allergens", "", "allergens to avoid, comma separated")

	usageCmd.Flags().IntVar(&usageDays, "days", 7, "number of days to report")
}
