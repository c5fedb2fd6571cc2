package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// Abandonment windows applied by the cleanup job.
const (
	AbandonAfter = 3 * time.Hour
	RemoveAfter  = 7 * 24 * time.Hour
)

// Cart 代表一個購物 session 的購物車
type Cart struct {
	ID                string          `json:"id"`
	Currency          stripe.Currency `json:"currency"`
	TotalPrice        float64         `json:"total_price"`
	Abandoned         bool            `json:"abandoned"`
	Items             []CartItem      `json:"items"`
	LastInteractionAt time.Time       `json:"last_interaction_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CartItem 代表購物車中的單個商品項目
type CartItem struct {
	ID          uint64  `json:"id"`
	CartID      string  `json:"cart_id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

func NewCart(currency stripe.Currency, now time.Time) *Cart {
	return &Cart{
		ID:                uuid.NewString(),
		Currency:          currency,
		TotalPrice:        0,
		Abandoned:         false,
		LastInteractionAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ValidQuantity reports whether q is usable as a line quantity.
func ValidQuantity(q int64) bool {
	return q > 0
}

// Item returns the line for productID, if present. At most one line exists
// per (cart, product) pair.
func (c *Cart) Item(productID string) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// AddProduct merges quantity into the existing line for the product, or opens
// a new line. It touches the interaction time and recomputes the cart total.
func (c *Cart) AddProduct(product *Product, quantity int64, now time.Time) error {
	if !ValidQuantity(quantity) {
		return ErrInvalidQuantity
	}

	if item, ok := c.Item(product.ID); ok {
		item.Quantity += quantity
	} else {
		c.Items = append(c.Items, CartItem{
			CartID:      c.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			UnitPrice:   product.Price,
		})
	}

	c.TouchInteraction(now)
	c.RecomputeTotal()

	return nil
}

// RemoveProduct destroys the line for productID. The cart is left untouched
// when no such line exists.
func (c *Cart) RemoveProduct(productID string, now time.Time) error {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.TouchInteraction(now)
			c.RecomputeTotal()
			return nil
		}
	}
	return ErrCartItemNotFound
}

// RecomputeTotal refreshes every line total and folds them into the cart
// total. Must run after any change to the item set.
func (c *Cart) RecomputeTotal() {
	var total float64
	for i := range c.Items {
		c.Items[i].TotalPrice = float64(c.Items[i].Quantity) * c.Items[i].UnitPrice
		total += c.Items[i].TotalPrice
	}
	c.TotalPrice = total
}

func (c *Cart) TouchInteraction(now time.Time) {
	c.LastInteractionAt = now
}

// MarkAbandoned transitions an active cart that has seen no interaction for
// AbandonAfter. UpdatedAt restarts on the transition, so the removal window
// counts from the moment the cart entered the abandoned state.
func (c *Cart) MarkAbandoned(now time.Time) bool {
	if c.Abandoned {
		return false
	}
	if now.Sub(c.LastInteractionAt) < AbandonAfter {
		return false
	}

	c.Abandoned = true
	c.UpdatedAt = now

	return true
}

// EligibleForRemoval reports whether the cart has sat abandoned past the
// retention window and should be destroyed together with its items.
func (c *Cart) EligibleForRemoval(now time.Time) bool {
	return c.Abandoned && now.Sub(c.UpdatedAt) >= RemoveAfter
}
