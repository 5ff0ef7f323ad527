package menu

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidItem    = fmt.Errorf("menu: item needs a name and a non-negative price: %w", apperr.ErrValidation)
	ErrItemNotFound   = fmt.Errorf("menu: item not found: %w", apperr.ErrNotFound)
	ErrOutOfStock     = fmt.Errorf("menu: item is out of stock: %w", apperr.ErrValidation)
	ErrInvalidCatalog = fmt.Errorf("menu: catalog selector must be alphanumeric: %w", apperr.ErrValidation)
)

// Item is one dish as published in a catalog file.
type Item struct {
	Name        string          `json:"item"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	InStock     bool            `json:"in_stock"`
}

// MarshalJSON writes the price as a JSON number with two decimals.
func (i Item) MarshalJSON() ([]byte, error) {
	type plain Item
	return json.Marshal(struct {
		plain
		Price json.Number `json:"price"`
	}{plain: plain(i), Price: json.Number(i.Price.StringFixed(2))})
}

func (i Item) Validate() error {
	if strings.TrimSpace(i.Name) == "" || i.Price.IsNegative() {
		return fmt.Errorf("%w (item %q)", ErrInvalidItem, i.Name)
	}
	return nil
}

// Catalog is an immutable, validated menu. Name is the selector it was loaded under.
type Catalog struct {
	name  string
	items []Item
}

func NewCatalog(name string, items []Item) (*Catalog, error) {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
	}
	return &Catalog{name: name, items: append([]Item(nil), items...)}, nil
}

func (c *Catalog) Name() string { return c.name }

func (c *Catalog) InStock() []Item {
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		if it.InStock {
			out = append(out, it)
		}
	}
	return out
}

// ByCategory returns in-stock items whose category matches exactly.
func (c *Catalog) ByCategory(category string) []Item {
	out := make([]Item, 0)
	for _, it := range c.items {
		if it.InStock && it.Category == category {
			out = append(out, it)
		}
	}
	return out
}

// Lookup finds an item by exact name, in stock or not.
func (c *Catalog) Lookup(name string) (Item, error) {
	for _, it := range c.items {
		if it.Name == name {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %q", ErrItemNotFound, name)
}

// FormattedText renders the in-stock items one per line, e.g. "Burger: $8.50 - Beef patty".
func (c *Catalog) FormattedText() string {
	lines := make([]string, 0, len(c.items))
	for _, it := range c.InStock() {
		lines = append(lines, fmt.Sprintf("%s: $%s - %s", it.Name, it.Price.StringFixed(2), it.Description))
	}
	return strings.Join(lines, "\n")
}
