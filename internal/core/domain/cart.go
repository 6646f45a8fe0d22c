package domain

import "time"

type Cart struct {
	ID        string
	Items     []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem references exactly one product; Quantity is always >= 1.
type LineItem struct {
	ProductID string
	Quantity  int
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// TotalQuantity is the number of units in the cart, shown as the cart badge count.
func (c *Cart) TotalQuantity() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// ValidateLineItems rejects an item list that could not be stored as a cart's contents.
func ValidateLineItems(items []LineItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return NewValidationError("every item needs a product id")
		}
		if item.Quantity < 1 {
			return NewValidationError("quantity must be a positive integer")
		}
		if _, dup := seen[item.ProductID]; dup {
			return NewValidationError("product %s appears more than once", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// CloneItems copies items so callers never share a backing array with a stored cart.
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
