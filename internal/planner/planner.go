package planner

import (
	"context"
	"fmt"

	"menu-planner/internal/candidates"
	"menu-planner/internal/menuplan"
	"menu-planner/internal/shared"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes one menu update.
type Request struct {
	Preferences string `validate:"max=2000"`
	// Comma separated allergen tags, matched exactly.
	Allergens string `validate:"max=1000"`
	StartDate string `validate:"required"`
	MealSlots []menuplan.MealSlot
	// 0 means a single day.
	NumberOfDays int `validate:"gte=0,lte=366"`
}

// Validate checks the request shape, the start date and every meal slot.
func (r Request) Validate() error {
	for _, slot := range r.MealSlots {
		if _, _, err := candidates.MealAndOrderTime(slot); err != nil {
			return err
		}
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid planning request: %w", err)
	}
	if _, err := candidates.ParseDate(r.StartDate); err != nil {
		return err
	}
	return nil
}

// Assignment is one slot filled by an update.
type Assignment struct {
	Date     string
	MealSlot menuplan.MealSlot
	ItemID   int
	Attempts int
}

// UpdateResult is the outcome of UpdateMenu.
type UpdateResult struct {
	Plan  string
	Added []Assignment
	Metas []shared.AgentMeta
}

// Changed reports whether any slot was filled.
func (r *UpdateResult) Changed() bool {
	return len(r.Added) > 0
}

// SlotSelector picks the item for one meal.
type SlotSelector interface {
	SelectItem(ctx context.Context, preferences, allergens, weekday string, slot menuplan.MealSlot) (Selection, error)
}

// Planner extends menu plans one slot at a time.
type Planner struct {
	selector    SlotSelector
	concurrency int
	logger      *zap.Logger
}

// NewPlanner creates a new Planner. A concurrency above one selects
// independent slots in parallel.
func NewPlanner(selector SlotSelector, concurrency int, logger *zap.Logger) *Planner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{selector: selector, concurrency: concurrency, logger: logger}
}

type slotTarget struct {
	date    string
	weekday string
	slot    menuplan.MealSlot
}

// UpdateMenu fills every requested (date, meal slot) that the plan does not
// hold yet and returns the extended plan. Filled slots are never selected
// again, so repeating a call is a no-op. On error the input plan is left as
// it was and no partial result is returned.
func (p *Planner) UpdateMenu(ctx context.Context, plan string, req Request) (*UpdateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	targets, err := p.pendingSlots(menuplan.Decode(plan), req)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{Plan: plan}
	if len(targets) == 0 {
		return result, nil
	}

	selections, err := p.selectAll(ctx, targets, req)
	if err != nil {
		return nil, err
	}

	for i, t := range targets {
		sel := selections[i]
		result.Plan = menuplan.Append(result.Plan, t.date, sel.ItemID, t.slot)
		result.Added = append(result.Added, Assignment{
			Date:     t.date,
			MealSlot: t.slot,
			ItemID:   sel.ItemID,
			Attempts: sel.Attempts,
		})
		result.Metas = append(result.Metas, sel.Metas...)
	}

	p.logger.Info("menu updated",
		zap.String("start_date", req.StartDate),
		zap.Int("days", max(req.NumberOfDays, 1)),
		zap.Int("added", len(result.Added)),
	)
	return result, nil
}

// pendingSlots walks the requested dates and slots in caller order and
// returns the ones missing from the plan, each at most once.
func (p *Planner) pendingSlots(view menuplan.Plan, req Request) ([]slotTarget, error) {
	start, err := candidates.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}

	days := max(req.NumberOfDays, 1)
	date := start.Format(candidates.DateLayout)
	queued := make(map[slotTarget]struct{})

	var targets []slotTarget
	for range days {
		next, weekday, err := candidates.WeekdayAndNextDate(date)
		if err != nil {
			return nil, err
		}
		for _, slot := range req.MealSlots {
			t := slotTarget{date: date, weekday: weekday, slot: slot}
			if view.Has(date, slot) {
				continue
			}
			if _, dup := queued[t]; dup {
				continue
			}
			queued[t] = struct{}{}
			targets = append(targets, t)
		}
		date = next
	}
	return targets, nil
}

func (p *Planner) selectAll(ctx context.Context, targets []slotTarget, req Request) ([]Selection, error) {
	selections := make([]Selection, len(targets))

	if p.concurrency == 1 {
		for i, t := range targets {
			sel, err := p.selector.SelectItem(ctx, req.Preferences, req.Allergens, t.weekday, t.slot)
			if err != nil {
				return nil, fmt.Errorf("failed to select %s for %s: %w", t.slot, t.date, err)
			}
			selections[i] = sel
		}
		return selections, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			sel, err := p.selector.SelectItem(gctx, req.Preferences, req.Allergens, t.weekday, t.slot)
			if err != nil {
				return fmt.Errorf("failed to select %s for %s: %w", t.slot, t.date, err)
			}
			selections[i] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return selections, nil
}
