package carrier

import "time"

// Status flags whether a carrier may participate in matching.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Carrier is the engine's read-only view of a transport company. Records are
// maintained by the onboarding collaborator; the engine only reads them.
type Carrier struct {
	ID                      string
	Name                    string
	SupportedTransportTypes []int
	PickupRegions           []string
	DeliveryRegions         []string
	Status                  Status
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Supports reports whether the carrier handles the given transport type.
func (c Carrier) Supports(transportTypeID int) bool {
	for _, t := range c.SupportedTransportTypes {
		if t == transportTypeID {
			return true
		}
	}
	return false
}

// ServesPickup reports whether the carrier covers the pickup city. An empty
// region list means unrestricted service.
func (c Carrier) ServesPickup(city string) bool {
	return servesRegion(c.PickupRegions, city)
}

// ServesDelivery reports whether the carrier covers the delivery city.
func (c Carrier) ServesDelivery(city string) bool {
	return servesRegion(c.DeliveryRegions, city)
}

func servesRegion(regions []string, city string) bool {
	if len(regions) == 0 {
		return true
	}
	for _, r := range regions {
		if r == city {
			return true
		}
	}
	return false
}
