package controller

import (
	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"
)

const (
	StateUninitialized    statekit.StateID = "uninitialized"
	StateInitializing     statekit.StateID = "initializing"
	StateQuestingActive   statekit.StateID = "questing_active"
	StateQuestingDisabled statekit.StateID = "questing_disabled"
)

const (
	eventInit     statekit.EventType = "INIT"
	eventActivate statekit.EventType = "ACTIVATE"
	eventDisable  statekit.EventType = "DISABLE"
)

// Reasons carried by the DISABLE event.
const (
	DisabledUndeterminedCategory = "undetermined_category"
	DisabledCategoryNotAllowed   = "category_not_allowed"
	DisabledTooManyFailures      = "too_many_failures"
	DisabledNoObjectives         = "no_objectives"
	DisabledStopped              = "stopped"
)

type machineContext struct {
	agentID        string
	log            *zap.Logger
	disabledReason string
}

func logEntry(c **machineContext, ev statekit.Event) {
	if c == nil || *c == nil {
		return
	}
	(*c).log.Debug("controller state", zap.String("agent", (*c).agentID), zap.String("event", string(ev.Type)))
}

func recordReason(c **machineContext, ev statekit.Event) {
	if c == nil || *c == nil {
		return
	}
	if reason, ok := ev.Payload.(string); ok {
		(*c).disabledReason = reason
	}
}

// newMachine builds the per-agent lifecycle:
// uninitialized -> initializing -> questing_active | questing_disabled,
// and questing_active -> questing_disabled.
func newMachine(mc *machineContext) (*statekit.MachineConfig[*machineContext], error) {
	return statekit.NewMachine[*machineContext]("objective-controller").
		WithInitial(StateUninitialized).
		WithContext(mc).
		WithAction("logEntry", logEntry).
		WithAction("recordReason", recordReason).
		State(StateUninitialized).
			On(eventInit).Target(StateInitializing).
			Done().
		State(StateInitializing).
			OnEntry("logEntry").
			On(eventActivate).Target(StateQuestingActive).
			On(eventDisable).Target(StateQuestingDisabled).Do("recordReason").
			Done().
		State(StateQuestingActive).
			OnEntry("logEntry").
			On(eventDisable).Target(StateQuestingDisabled).Do("recordReason").
			Done().
		State(StateQuestingDisabled).
			Final().
			OnEntry("logEntry").
			Done().
		Build()
}
