package models

// TierName identifies a pricing bucket.
type TierName string

const (
	TierSale    TierName = "sale"
	TierRegular TierName = "regular"
)

// PricingTier is a row of the pricing_tiers table. Capacity is only
// meaningful for the sale tier; ReservedCount never decreases.
type PricingTier struct {
	Name          TierName `json:"name"`
	ReservedCount int64    `json:"reserved_count"`
	Capacity      int64    `json:"capacity"`
}

// Remaining returns the number of unreserved slots.
func (t PricingTier) Remaining() int64 {
	if t.ReservedCount >= t.Capacity {
		return 0
	}
	return t.Capacity - t.ReservedCount
}

// Quote is the price assigned to a posting.
type Quote struct {
	Amount     int64    `json:"amount"`
	Currency   string   `json:"currency"`
	Tier       TierName `json:"tier"`
	Discounted bool     `json:"is_sale"`
}

// PricingSnapshot is a read-only view of the current offer. It does not
// reserve anything.
type PricingSnapshot struct {
	CurrentPrice int64  `json:"current_price"`
	Currency     string `json:"currency"`
	IsSale       bool   `json:"is_sale"`
	SaleCount    int64  `json:"sale_count"`
	MaxSaleCount int64  `json:"max_sale_count"`
}
