package token

// Event is an administrator action on a token.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventClear   Event = "clear"
)

type transition struct {
	from  Status
	event Event
}

var transitions = map[transition]Status{
	{StatusPending, EventApprove}: StatusApproved,
	{StatusPending, EventReject}:  StatusRejected,
	{StatusApproved, EventClear}:  StatusCleared,
	{StatusRejected, EventClear}:  StatusCleared,
}

// Next returns the status event leads to from current, or a *TransitionError.
func Next(current Status, event Event) (Status, error) {
	to, ok := transitions[transition{current, event}]
	if !ok {
		return current, &TransitionError{Current: current, Event: event}
	}
	return to, nil
}

// EventFor maps a requested target status to the event that produces it.
func EventFor(target Status) (Event, bool) {
	switch target {
	case StatusApproved:
		return EventApprove, true
	case StatusRejected:
		return EventReject, true
	case StatusCleared:
		return EventClear, true
	}
	return "", false
}

// Terminal reports whether no further event is accepted from s.
func Terminal(s Status) bool {
	for tr := range transitions {
		if tr.from == s {
			return false
		}
	}
	return true
}

func eventType(ev Event) string {
	switch ev {
	case EventApprove:
		return EventTokenApproved
	case EventReject:
		return EventTokenRejected
	case EventClear:
		return EventTokenCleared
	}
	return "TOKEN_" + string(ev)
}
