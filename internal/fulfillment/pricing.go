package fulfillment

import (
	"math"
	"time"
)

// Config carries the pricing and scheduling knobs for the engine
type Config struct {
	// ShippingFee is the flat fee charged below FreeShippingThreshold
	ShippingFee           int64
	FreeShippingThreshold int64
	// TaxRate is applied to the item subtotal, rounded half away from zero
	TaxRate float64

	// ShipAfter and DeliverAfter drive the simulated carrier: how long an
	// order sits in confirmed before shipping, and in shipped before delivery
	ShipAfter    time.Duration
	DeliverAfter time.Duration

	// LowStockThreshold triggers restock alerts at or below this level
	LowStockThreshold int

	// RemindBefore is how far ahead of expiry warranty reminders go out
	RemindBefore time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ShippingFee:           500,
		FreeShippingThreshold: 10000,
		TaxRate:               0.10,
		ShipAfter:             24 * time.Hour,
		DeliverAfter:          72 * time.Hour,
		LowStockThreshold:     5,
		RemindBefore:          14 * 24 * time.Hour,
	}
}

func (c Config) shippingFee(subtotal int64) int64 {
	if c.FreeShippingThreshold > 0 && subtotal >= c.FreeShippingThreshold {
		return 0
	}
	return c.ShippingFee
}

func (c Config) taxOn(subtotal int64) int64 {
	if c.TaxRate <= 0 {
		return 0
	}
	return int64(math.Round(float64(subtotal) * c.TaxRate))
}
