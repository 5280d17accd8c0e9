package request

import (
	"context"
	"fmt"

	"freightflow/carrier"
)

// VisibilityStore is the read access the matching filter needs.
type VisibilityStore interface {
	ListOpenByTransportTypes(ctx context.Context, transportTypes []int) ([]Request, error)
}

// Matcher computes which requests a carrier may currently see. It has no
// side effects and performs no scoring or ranking: ordering is newest first
// as a display convenience, and first-to-claim wins.
type Matcher struct {
	repo VisibilityStore
}

func NewMatcher(repo VisibilityStore) *Matcher {
	return &Matcher{repo: repo}
}

// VisibleRequests returns every request eligible for the carrier, most
// recent first. A suspended carrier sees nothing.
func (m *Matcher) VisibleRequests(ctx context.Context, c carrier.Carrier) ([]Request, error) {
	if len(c.SupportedTransportTypes) == 0 {
		return nil, fmt.Errorf("request: carrier %s has no supported transport types", c.ID)
	}
	if c.Status == carrier.StatusSuspended {
		return []Request{}, nil
	}

	candidates, err := m.repo.ListOpenByTransportTypes(ctx, c.SupportedTransportTypes)
	if err != nil {
		return nil, err
	}

	visible := make([]Request, 0, len(candidates))
	for _, r := range candidates {
		if Eligible(r, c) {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// Eligible is the pure visibility predicate. A request is eligible iff the
// carrier supports its transport type, has not rejected it, covers both
// regions, and the request is either still open or already won by this
// carrier. Requests won by others are never visible.
func Eligible(r Request, c carrier.Carrier) bool {
	if !c.Supports(r.TransportTypeID) {
		return false
	}
	if r.RejectedByCarrier(c.ID) {
		return false
	}
	if !c.ServesPickup(r.PickupRegion.City) || !c.ServesDelivery(r.DeliveryRegion.City) {
		return false
	}

	switch r.Status {
	case StatusNew, StatusOfferMade:
		return true
	case StatusAccepted:
		return r.CarrierID != nil && *r.CarrierID == c.ID
	default:
		return false
	}
}
