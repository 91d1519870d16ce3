package entity

import (
	"github.com/cwbridge/cwbridge/pkg/types"
)

// Shared entity metadata.
const (
	Domain       = "checkwatt"
	Attribution  = "Data provided by CheckWatt EnergyInBalance"
	Manufacturer = "CheckWatt"
	Model        = "CheckWatt"
)

// Platforms an entity can belong to.
const (
	PlatformSensor = "sensor"
	PlatformEvent  = "event"
)

// Description is the static metadata of an entity.
type Description struct {
	Key            string
	Name           string
	Icon           string
	DeviceClass    string
	Unit           string
	StateClass     string
	TranslationKey string
}

// DeviceInfo groups all entities of one installation.
type DeviceInfo struct {
	Identifiers  []string
	Manufacturer string
	Model        string
	Name         string
}

// Entity is anything that is exposed to the home-automation host.
type Entity interface {
	UniqueID() string
	Description() Description
	Device() DeviceInfo
	Platform() string
}

// HasNativeValue is implemented by entities with a state value. ok is false
// when the response does not carry the value.
type HasNativeValue interface {
	NativeValue(resp types.Response) (v any, ok bool)
}

// HasExtraAttributes is implemented by entities that expose attributes next
// to their state.
type HasExtraAttributes interface {
	ExtraAttributes(resp types.Response) map[string]any
}

// Sensor is an entity with a state value.
type Sensor interface {
	Entity
	HasNativeValue
}

type base struct {
	desc     Description
	uniqueID string
	device   DeviceInfo
}

func newBase(resp types.Response, desc Description) base {
	return base{
		desc:     desc,
		uniqueID: "checkwattUid_" + desc.Key + "_" + resp.ID,
		device:   deviceInfo(resp),
	}
}

func deviceInfo(resp types.Response) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{Domain + "_" + resp.ID},
		Manufacturer: Manufacturer,
		Model:        Model,
		Name:         resp.DisplayName,
	}
}

func (b base) UniqueID() string         { return b.uniqueID }
func (b base) Description() Description { return b.desc }
func (b base) Device() DeviceInfo       { return b.device }
func (b base) Platform() string         { return PlatformSensor }

// Build creates the entities for an entry from its first response, honoring
// the entry options.
func Build(resp types.Response, opts types.Options) ([]Sensor, *FCRDEvent) {
	sensors := []Sensor{
		newDailySensor(resp),
		newMonthlySensor(resp),
		newAnnualSensor(resp),
		newBatterySensor(resp),
	}
	if opts.CM10Sensor {
		sensors = append(sensors, newCM10Sensor(resp))
	}
	if opts.ShowDetails {
		for _, d := range energyDescriptions {
			sensors = append(sensors, newEnergySensor(resp, d))
		}
		sensors = append(sensors,
			newSpotPriceSensor(resp, spotPriceDescription, false),
			newSpotPriceSensor(resp, spotPriceVATDescription, true),
		)
	}
	return sensors, newFCRDEvent(resp)
}
