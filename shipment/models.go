package shipment

import "time"

// Shipment is the operational record created exactly once per paid request,
// tracked through physical pickup and delivery.
type Shipment struct {
	ID               string
	RequestID        string
	CarrierID        string
	DriverID         *string
	VehicleID        *string
	TransportTypeID  int
	PickupCity       string
	PickupDistrict   *string
	DeliveryCity     string
	DeliveryDistrict *string
	Price            int64
	Status           Status
	PaymentStatus    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HistoryEntry is one row of the append-only status log.
type HistoryEntry struct {
	ID         int64
	ShipmentID string
	Seq        int
	Status     Status
	Actor      *string
	Note       *string
	Timestamp  time.Time
}

// InitialNote is stamped on the first history entry at promotion time.
const InitialNote = "payment completed, awaiting pickup"
