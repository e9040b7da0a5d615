package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML document used to load a catalog.
type Seed struct {
	Restaurants []SeedRestaurant `yaml:"restaurants"`
	Items       []SeedItem       `yaml:"items"`
}

// SeedRestaurant is a restaurant as written in a seed file.
type SeedRestaurant struct {
	ID     int              `yaml:"id"`
	Name   string           `yaml:"name"`
	Hours  map[string][]int `yaml:"hours"`
	Status string           `yaml:"status"`
}

// SeedItem is a menu item as written in a seed file. Items are in stock
// unless in_stock is set to false.
type SeedItem struct {
	ID           int      `yaml:"id"`
	RestaurantID int      `yaml:"restaurant_id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Price        int      `yaml:"price"`
	Calories     int      `yaml:"calories"`
	Allergens    []string `yaml:"allergens"`
	InStock      *bool    `yaml:"in_stock"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks ids are unique and every item points at a known restaurant.
func (s *Seed) Validate() error {
	restaurants := make(map[int]struct{}, len(s.Restaurants))
	for _, r := range s.Restaurants {
		if r.ID <= 0 {
			return fmt.Errorf("restaurant %q has invalid id %d", r.Name, r.ID)
		}
		if _, dup := restaurants[r.ID]; dup {
			return fmt.Errorf("duplicate restaurant id %d", r.ID)
		}
		restaurants[r.ID] = struct{}{}
	}

	items := make(map[int]struct{}, len(s.Items))
	for _, it := range s.Items {
		if it.ID <= 0 {
			return fmt.Errorf("item %q has invalid id %d", it.Name, it.ID)
		}
		if _, dup := items[it.ID]; dup {
			return fmt.Errorf("duplicate item id %d", it.ID)
		}
		if _, ok := restaurants[it.RestaurantID]; !ok {
			return fmt.Errorf("item %d references unknown restaurant %d", it.ID, it.RestaurantID)
		}
		items[it.ID] = struct{}{}
	}
	return nil
}

func (r SeedRestaurant) toRestaurant() Restaurant {
	status := r.Status
	if status == "" {
		status = StatusOpen
	}
	return Restaurant{ID: r.ID, Name: r.Name, Hours: WeeklyHours(r.Hours), Status: status}
}

func (it SeedItem) toItem() Item {
	inStock := true
	if it.InStock != nil {
		inStock = *it.InStock
	}
	return Item{
		ID:           it.ID,
		RestaurantID: it.RestaurantID,
		Name:         it.Name,
		Description:  PlainText(it.Description),
		Price:        it.Price,
		Calories:     it.Calories,
		AllergenTags: it.Allergens,
		InStock:      inStock,
	}
}
