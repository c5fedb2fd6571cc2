package models

import "errors"

// Domain error taxonomy. Repositories map storage-level misses onto these so
// callers can discriminate with errors.Is.
var (
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
	ErrProductNotFound  = errors.New("product not found")
	ErrCartItemNotFound = errors.New("product not found in cart")
	ErrCartNotFound     = errors.New("cart not found")
)
