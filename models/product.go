package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"
)

// Product 代表商品目錄中的一個商品，對本服務而言是唯讀的
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     float64         `json:"price"`
	Currency  stripe.Currency `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
