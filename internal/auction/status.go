package auction

// Status is the lifecycle state of an auction.
type Status string

const (
	// StatusActive accepts bids until the deadline or a buyout.
	StatusActive Status = "active"
	// StatusPending is closed with a winner whose debit failed on
	// insufficient balance; settlement may be retried.
	StatusPending Status = "pending"
	// StatusCompleted is closed with the winner's gold debited, awaiting
	// the holder's confirmation of the item transfer.
	StatusCompleted Status = "completed"
	// StatusSettled is fully reconciled: debited and confirmed. Terminal.
	StatusSettled Status = "settled"
	// StatusCancelled was withdrawn by the holder while active. Terminal.
	StatusCancelled Status = "cancelled"
)

// transitions is the closed set of legal status changes. Active moves
// straight to pending when the close and a failed debit coincide under the
// same critical section.
var transitions = map[Status][]Status{
	StatusActive:    {StatusCompleted, StatusPending, StatusCancelled},
	StatusPending:   {StatusCompleted},
	StatusCompleted: {StatusSettled},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusCompleted, StatusSettled, StatusCancelled:
		return true
	}
	return false
}
