package escrow

// Status is the lifecycle state of an escrow transaction. Values are persisted verbatim.
type Status string

const (
	StatusCreated          Status = "created"
	StatusDepositPending   Status = "deposit.pending"
	StatusDepositSuccess   Status = "deposit.success"
	StatusServicePending   Status = "service.pending"
	StatusServiceConfirmed Status = "service.confirmed"
	StatusCompleted        Status = "completed"
	StatusDispute          Status = "dispute"
	StatusRefunded         Status = "refunded"
	StatusCancelled        Status = "cancelled"
	StatusExpired          Status = "expired"
)

// transitions is the complete adjacency table of the lifecycle.
// States missing from the table, and terminal states, allow nothing.
var transitions = map[Status][]Status{
	StatusCreated:          {StatusDepositPending, StatusCancelled, StatusExpired},
	StatusDepositPending:   {StatusDepositSuccess, StatusCancelled, StatusExpired},
	StatusDepositSuccess:   {StatusServicePending, StatusServiceConfirmed, StatusCompleted, StatusDispute},
	StatusServicePending:   {StatusServiceConfirmed, StatusCompleted},
	StatusServiceConfirmed: {StatusDispute, StatusCompleted},
	StatusDispute:          {},
	StatusCancelled:        {},
	StatusRefunded:         {},
	StatusCompleted:        {},
	StatusExpired:          {},
}

// AllStatuses lists every persisted status value.
var AllStatuses = []Status{
	StatusCreated,
	StatusDepositPending,
	StatusDepositSuccess,
	StatusServicePending,
	StatusServiceConfirmed,
	StatusCompleted,
	StatusDispute,
	StatusRefunded,
	StatusCancelled,
	StatusExpired,
}

// CanTransition reports whether requested is reachable from current in one step.
func CanTransition(current, requested Status) bool {
	for _, next := range transitions[current] {
		if next == requested {
			return true
		}
	}
	return false
}

// StatusesAllowing returns the statuses from which target is reachable.
func StatusesAllowing(target Status) []Status {
	var sources []Status
	for _, s := range AllStatuses {
		if CanTransition(s, target) {
			sources = append(sources, s)
		}
	}
	return sources
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}
