package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type restaurantRow struct {
	ID     int    `db:"rtr_id"`
	Name   string `db:"name"`
	Hours  string `db:"hours"`
	Status string `db:"status"`
}

type itemRow struct {
	ID           int    `db:"itm_id"`
	RestaurantID int    `db:"rtr_id"`
	Name         string `db:"name"`
	Description  string `db:"description"`
	Price        int    `db:"price"`
	Calories     int    `db:"calories"`
	InStock      bool   `db:"instock"`
	Allergens    string `db:"allergens"`
}

// Repository is a database-backed repository for the restaurant catalog.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// LoadSnapshot reads every restaurant and every in-stock item.
func (r *Repository) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var rRows []restaurantRow
	if err := r.db.SelectContext(ctx, &rRows,
		`SELECT rtr_id, name, hours, status FROM restaurants ORDER BY rtr_id`); err != nil {
		return Snapshot{}, fmt.Errorf("failed to load restaurants: %w", err)
	}

	var iRows []itemRow
	if err := r.db.SelectContext(ctx, &iRows,
		`SELECT itm_id, rtr_id, name, description, price, calories, instock, allergens
		 FROM menu_items WHERE instock = 1 ORDER BY itm_id`); err != nil {
		return Snapshot{}, fmt.Errorf("failed to load menu items: %w", err)
	}

	snap := Snapshot{
		Restaurants: make([]Restaurant, 0, len(rRows)),
		Items:       make([]Item, 0, len(iRows)),
	}
	for _, row := range rRows {
		var hours WeeklyHours
		if row.Hours != "" {
			if err := json.Unmarshal([]byte(row.Hours), &hours); err != nil {
				return Snapshot{}, fmt.Errorf("failed to unmarshal hours for restaurant %d: %w", row.ID, err)
			}
		}
		snap.Restaurants = append(snap.Restaurants, Restaurant{
			ID:     row.ID,
			Name:   row.Name,
			Hours:  hours,
			Status: row.Status,
		})
	}
	for _, row := range iRows {
		snap.Items = append(snap.Items, Item{
			ID:           row.ID,
			RestaurantID: row.RestaurantID,
			Name:         row.Name,
			Description:  row.Description,
			Price:        row.Price,
			Calories:     row.Calories,
			AllergenTags: ParseAllergens(row.Allergens),
			InStock:      row.InStock,
		})
	}
	return snap, nil
}

// Import upserts the seed into the catalog in a single transaction.
func (r *Repository) Import(ctx context.Context, seed *Seed) (restaurants, items int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, sr := range seed.Restaurants {
		rest := sr.toRestaurant()
		hours, mErr := json.Marshal(rest.Hours)
		if mErr != nil {
			return 0, 0, fmt.Errorf("failed to marshal hours for restaurant %d: %w", rest.ID, mErr)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO restaurants (rtr_id, name, hours, status) VALUES (?, ?, ?, ?)
			ON CONFLICT (rtr_id) DO UPDATE SET name = excluded.name, hours = excluded.hours, status = excluded.status`,
			rest.ID, rest.Name, string(hours), rest.Status); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert restaurant %d: %w", rest.ID, err)
		}
		restaurants++
	}

	for _, si := range seed.Items {
		it := si.toItem()
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO menu_items (itm_id, rtr_id, name, description, price, calories, instock, allergens)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (itm_id) DO UPDATE SET
				rtr_id = excluded.rtr_id, name = excluded.name, description = excluded.description,
				price = excluded.price, calories = excluded.calories, instock = excluded.instock,
				allergens = excluded.allergens`,
			it.ID, it.RestaurantID, it.Name, it.Description, it.Price, it.Calories, it.InStock,
			strings.Join(it.AllergenTags, ", ")); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert menu item %d: %w", it.ID, err)
		}
		items++
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit catalog import: %w", err)
	}
	return restaurants, items, nil
}
