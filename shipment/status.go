package shipment

// Status is the closed shipment lifecycle enumeration.
type Status string

const (
	StatusWaitingPickup Status = "waiting_pickup"
	StatusInProgress    Status = "in_progress"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
)

// legalNext is the sole authority for allowed shipment transitions.
// delivered and cancelled are terminal.
var legalNext = map[Status][]Status{
	StatusWaitingPickup: {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusDelivered, StatusCancelled},
	StatusDelivered:     nil,
	StatusCancelled:     nil,
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

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range legalNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which `to` is reachable.
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
