package domain

import "time"

// Order is the durable record of a settled purchase. Orders are append-only:
// once recorded they are never updated or deleted by this subsystem.
type Order struct {
	ID             string
	IdempotencyKey string
	ProductName    string
	CompanyName    string
	Quantity       int
	BuyerName      string
	CreatedAt      time.Time
}
