package portfolio

import "quanta/internal/event"

// State of a symbol's lifecycle. Symbols without an entry are IDLE.
type State string

const (
	StateIdle    State = "IDLE"
	StateOpening State = "OPENING"
	StateOpened  State = "OPENED"
	StateClosing State = "CLOSING"
)

func (s State) String() string { return string(s) }

type transitionKey struct {
	state State
	kind  event.Kind
}

// nextStates maps (state, event kind) to the state committed after the
// handler succeeds. Pairs absent here keep the current state.
var nextStates = map[transitionKey]State{
	{StateIdle, event.KindOpenLong}:          StateOpening,
	{StateIdle, event.KindOpenShort}:         StateOpening,
	{StateOpening, event.KindOrderFilled}:    StateOpened,
	{StateOpened, event.KindMarketUpdate}:    StateOpened,
	{StateOpened, event.KindExitLong}:        StateClosing,
	{StateOpened, event.KindExitShort}:       StateClosing,
	{StateOpened, event.KindRiskExit}:        StateClosing,
	{StateClosing, event.KindPositionClosed}: StateIdle,
}

func nextState(state State, kind event.Kind) State {
	if next, ok := nextStates[transitionKey{state, kind}]; ok {
		return next
	}
	return state
}
