package request

import "time"

// Region is a structured pickup/delivery location: city plus optional
// district. Matching compares normalized city names exactly; there is no
// substring matching.
type Region struct {
	City     string
	District *string
}

// Request is a freight-movement order awaiting carrier assignment and
// payment. Rows are never deleted; they only move to terminal states.
type Request struct {
	ID              string
	TransportTypeID int
	PickupRegion    Region
	DeliveryRegion  Region
	Price           int64
	Status          Status
	CarrierID       *string
	RejectedBy      []string
	ShipmentID      *string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RejectedByCarrier reports whether the carrier has already declined this
// request. Membership is permanent.
func (r Request) RejectedByCarrier(carrierID string) bool {
	for _, id := range r.RejectedBy {
		if id == carrierID {
			return true
		}
	}
	return false
}

// CreateParams enumerates the intake fields for a new request.
type CreateParams struct {
	TransportTypeID int
	PickupRegion    Region
	DeliveryRegion  Region
	Price           int64
	ExpiresAt       *time.Time
}

// Filters narrows dashboard listings of requests.
type Filters struct {
	Status    Status
	CarrierID string
	Page      int
	PageSize  int
}
