package engine

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Scan lifecycle states.
const (
	StateIdle        = "idle"
	StateCollecting  = "collecting"
	StateMatching    = "matching"
	StateClassifying = "classifying"
	StateAggregating = "aggregating"
	StateDone        = "done"
	StateError       = "error"
)

// Scan lifecycle events.
const (
	EventCollect   = "collect"
	EventMatch     = "match"
	EventClassify  = "classify"
	EventAggregate = "aggregate"
	EventFinish    = "finish"
	EventFail      = "fail"
)

var activeStates = []string{StateCollecting, StateMatching, StateClassifying, StateAggregating}

// newLifecycle builds the state machine of one scan. onEnter is called with
// the destination of every transition.
func newLifecycle(log *zap.SugaredLogger, onEnter func(state string)) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventCollect, Src: []string{StateIdle}, Dst: StateCollecting},
			{Name: EventMatch, Src: []string{StateCollecting}, Dst: StateMatching},
			{Name: EventClassify, Src: []string{StateMatching}, Dst: StateClassifying},
			{Name: EventAggregate, Src: []string{StateClassifying}, Dst: StateAggregating},
			{Name: EventFinish, Src: []string{StateAggregating}, Dst: StateDone},
			{Name: EventFail, Src: activeStates, Dst: StateError},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("scan %s -> %s", e.Src, e.Dst)
				if onEnter != nil {
					onEnter(e.Dst)
				}
			},
		},
	)
}
