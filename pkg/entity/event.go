package entity

import (
	"github.com/cwbridge/cwbridge/pkg/types"
)

// FCR-D event types.
const (
	EventFCRDActivated   = "fcrd_activated"
	EventFCRDDeactivated = "fcrd_deactivated"
	EventFCRDFailed      = "fcrd_failed"
)

var fcrdEventDescription = Description{
	Key:            "fcr_d_event",
	Name:           "FCR-D State",
	Icon:           "mdi:battery-alert",
	DeviceClass:    "fcrd",
	TranslationKey: "fcr_d_event",
}

// FCRDEvent turns FCR-D state changes into discrete events.
type FCRDEvent struct {
	base
}

func newFCRDEvent(resp types.Response) *FCRDEvent {
	return &FCRDEvent{base: newBase(resp, fcrdEventDescription)}
}

// Platform implements Entity.
func (e *FCRDEvent) Platform() string { return PlatformEvent }

// EventTypes lists the events the entity can fire.
func (e *FCRDEvent) EventTypes() []string {
	return []string{EventFCRDActivated, EventFCRDDeactivated, EventFCRDFailed}
}

// BootEvent returns the event fired once when the entity is set up, derived
// from the FCR-D state of the first response.
func (e *FCRDEvent) BootEvent(resp types.Response) (string, bool) {
	if resp.Meter == nil {
		return "", false
	}
	return eventForState(resp.Meter.FCRDStatus)
}

// HandleSignal maps a dispatched payload onto an event type. ok is false for
// unknown signals or states.
func (e *FCRDEvent) HandleSignal(payload types.SignalPayload) (string, bool) {
	if payload.Signal != types.SignalFCRD {
		return "", false
	}
	return eventForState(payload.Data.NewFCRD.State)
}

func eventForState(state string) (string, bool) {
	switch state {
	case types.FCRDActivated:
		return EventFCRDActivated, true
	case types.FCRDDeactivated:
		return EventFCRDDeactivated, true
	case types.FCRDFailActivation:
		return EventFCRDFailed, true
	default:
		return "", false
	}
}
