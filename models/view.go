package models

// CartLine is one product entry in the rendered cart.
type CartLine struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// CartView is the serialization contract exposed to the rendering layer.
type CartView struct {
	ID         string     `json:"id"`
	Products   []CartLine `json:"products"`
	TotalPrice float64    `json:"total_price"`
}

// View renders the cart into its exposed read model. Unit prices reflect the
// current product prices the items were loaded with.
func (c *Cart) View() *CartView {
	products := make([]CartLine, 0, len(c.Items))
	for _, item := range c.Items {
		products = append(products, CartLine{
			ID:         item.ProductID,
			Name:       item.ProductName,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}

	return &CartView{
		ID:         c.ID,
		Products:   products,
		TotalPrice: c.TotalPrice,
	}
}
