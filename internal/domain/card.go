package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCard is returned for card records that cannot be evaluated.
var ErrInvalidCard = errors.New("invalid card record")

// UserCard is one card instance a user holds or has held.
type UserCard struct {
	ID                   string     `json:"id"`
	ProductID            string     `json:"productId"`
	Issuer               string     `json:"issuer"`
	OpenDate             time.Time  `json:"openDate"`
	ClosedDate           *time.Time `json:"closedDate,omitempty"`
	BonusReceivedDate    *time.Time `json:"signupBonusReceivedDate,omitempty"`
	IsBusiness           bool       `json:"isBusinessCard"`
	ProductFamily        string     `json:"productFamily,omitempty"`
	ProductChangedFromID string     `json:"productChangedFromId,omitempty"`
}

// Validate checks the record invariants.
func (c UserCard) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCard)
	}
	if c.ProductID == "" {
		return fmt.Errorf("%w: card %s: productId is required", ErrInvalidCard, c.ID)
	}
	if c.OpenDate.IsZero() {
		return fmt.Errorf("%w: card %s: openDate is required", ErrInvalidCard, c.ID)
	}
	if c.ClosedDate != nil && c.ClosedDate.Before(c.OpenDate) {
		return fmt.Errorf("%w: card %s: closedDate %s is before openDate %s", ErrInvalidCard,
			c.ID, c.ClosedDate.Format(DateLayout), c.OpenDate.Format(DateLayout))
	}
	return nil
}

// IsOpenAt reports whether the account is open at now.
func (c UserCard) IsOpenAt(now time.Time) bool {
	return c.ClosedDate == nil || c.ClosedDate.After(now)
}

// HeldProduct reports whether the card is, or was product-changed from, productID.
func (c UserCard) HeldProduct(productID string) bool {
	return c.ProductID == productID || c.ProductChangedFromID == productID
}

// CardProduct is a card product definition from the catalog.
type CardProduct struct {
	ID               string            `json:"id"`
	Issuer           string            `json:"issuer"`
	Name             string            `json:"name"`
	Family           string            `json:"family,omitempty"`
	AnnualFee        float64           `json:"annualFee"`
	IsBusiness       bool              `json:"isBusiness"`
	Benefits         []Benefit         `json:"benefits,omitempty"`
	DowngradeTargets []DowngradeOption `json:"downgradeTargets,omitempty"`
}

// Benefit is a recurring credit or perk with a face value per card year.
type Benefit struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	FaceValue float64 `json:"faceValue"`
}

// DowngradeOption is a product the issuer allows a product change into.
type DowngradeOption struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	AnnualFee float64 `json:"annualFee"`
}

// BenefitUsage records how much of a benefit was used in the current card year.
type BenefitUsage struct {
	CardID     string    `json:"cardId"`
	BenefitID  string    `json:"benefitId"`
	UsedAmount float64   `json:"usedAmount"`
	RecordedAt time.Time `json:"recordedAt,omitempty"`
}

// DateLayout is the date format used in reasons and recommendations.
const DateLayout = "2006-01-02"

// Issuer is a card-issuing bank as listed in the catalog.
type Issuer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
