package controller

// State is the controller's position in the hysteresis state machine.
type State int

const (
	Disabled State = iota
	Stable
	PendingDrop
	PendingIncrease
	Paused
)

var stateNames = map[State]string{
	Disabled:        "disabled",
	Stable:          "stable",
	PendingDrop:     "pending_drop",
	PendingIncrease: "pending_increase",
	Paused:          "paused",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Direction of a committed refresh-rate change.
type Direction string

const (
	Dropped   Direction = "dropped"
	Increased Direction = "increased"
)
