package cart

import (
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = fmt.Errorf("cart: quantity must be a positive integer: %w", apperr.ErrValidation)
	ErrInvalidPrice    = fmt.Errorf("cart: price must be a non-negative number: %w", apperr.ErrValidation)
	ErrInvalidItem     = fmt.Errorf("cart: item name is required: %w", apperr.ErrValidation)
	ErrNoCart          = fmt.Errorf("cart: no cart in session: %w", apperr.ErrNotFound)
	ErrLineNotFound    = fmt.Errorf("cart: item not in cart: %w", apperr.ErrNotFound)
)

// Line is one item of the cart. ItemName is the identity key, compared case-sensitively.
type Line struct {
	ItemName  string          `json:"item_name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart keeps lines in insertion order. Every line has Quantity >= 1 and names are unique.
type Cart struct {
	Lines []Line `json:"lines"`
}

func New() *Cart {
	return &Cart{Lines: []Line{}}
}

// Add appends a line, or increments the quantity of the line with the same name.
func (c *Cart) Add(name string, unitPrice decimal.Decimal, quantity int) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidItem
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	for i := range c.Lines {
		if c.Lines[i].ItemName == name {
			c.Lines[i].Quantity += quantity
			return nil
		}
	}
	c.Lines = append(c.Lines, Line{ItemName: name, UnitPrice: unitPrice, Quantity: quantity})
	return nil
}

// UpdateQuantity sets the quantity of an existing line. Zero is rejected: use Remove.
func (c *Cart) UpdateQuantity(name string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	for i := range c.Lines {
		if c.Lines[i].ItemName == name {
			c.Lines[i].Quantity = quantity
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrLineNotFound, name)
}

// Remove drops every line named name and reports how many went. No match is not an error.
func (c *Cart) Remove(name string) int {
	kept := c.Lines[:0]
	removed := 0
	for _, l := range c.Lines {
		if l.ItemName == name {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	c.Lines = kept
	return removed
}

func (c *Cart) Clear() {
	c.Lines = []Line{}
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Total is recomputed from the lines on every call. A nil cart totals zero.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// DisplayTotal is Total rounded half-up to cents.
func (c *Cart) DisplayTotal() decimal.Decimal {
	return c.Total().Round(2)
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	return &Cart{Lines: append([]Line{}, c.Lines...)}
}
