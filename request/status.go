package request

// Status is the closed request lifecycle enumeration. Anything outside the
// transition table below is rejected; there is no free-form status handling.
type Status string

const (
	StatusNew            Status = "new"
	StatusOfferMade      Status = "offer_made"
	StatusAccepted       Status = "accepted"
	StatusWaitingApprove Status = "waiting_approve"
	StatusApproved       Status = "approved"
	StatusPaid           Status = "paid"
	StatusConverted      Status = "converted"
	StatusExpired        Status = "expired"
	StatusCancelled      Status = "cancelled"
)

// legalNext is the sole authority for allowed request transitions. Terminal
// states map to nil: nothing transitions out of them.
var legalNext = map[Status][]Status{
	StatusNew:            {StatusOfferMade, StatusAccepted, StatusExpired, StatusCancelled},
	StatusOfferMade:      {StatusWaitingApprove, StatusAccepted, StatusExpired, StatusCancelled},
	StatusAccepted:       {StatusPaid, StatusExpired, StatusCancelled},
	StatusWaitingApprove: {StatusApproved, StatusExpired, StatusCancelled},
	StatusApproved:       {StatusPaid, StatusExpired, StatusCancelled},
	StatusPaid:           {StatusConverted, StatusExpired, StatusCancelled},
	StatusConverted:      nil,
	StatusExpired:        nil,
	StatusCancelled:      nil,
}

func (s Status) IsValid() bool {
	_, ok := legalNext[s]
	return ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	next, ok := legalNext[s]
	return ok && len(next) == 0
}

// CarrierAttached reports whether a request in this status holds a carrier
// claim. carrier_id is set exactly while this is true.
func (s Status) CarrierAttached() bool {
	switch s {
	case StatusAccepted, StatusWaitingApprove, StatusApproved, StatusPaid, StatusConverted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range legalNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which `to` is reachable. The
// repository uses this set as the conditional-update precondition.
func Predecessors(to Status) []Status {
	var preds []Status
	for from, nexts := range legalNext {
		for _, next := range nexts {
			if next == to {
				preds = append(preds, from)
			}
		}
	}
	return preds
}
