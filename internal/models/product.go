package models

import "time"

// Product is a catalog listing owned by a farmer.
type Product struct {
	ID                int64     `json:"id"`
	FarmerID          int64     `json:"farmer_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	PriceCents        int64     `json:"price_cents"`
	QuantityAvailable int64     `json:"quantity_available"`
	CreatedAt         time.Time `json:"created_at"`
}
