package telemetry

import "errors"

// Device identifies one inverter within a plant.
type Device struct {
	Serial   string `yaml:"serial" json:"serial"`
	Plant    string `yaml:"-" json:"plant"`
	EntityID string `yaml:"entity_id" json:"entity_id"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.Serial == "" {
		return errors.New("device: empty serial")
	}
	if d.Plant == "" {
		return errors.New("device: empty plant")
	}
	if d.EntityID == "" {
		return errors.New("device: empty entity id")
	}
	return nil
}

// DeviceKey is the composite lookup key for a device.
type DeviceKey struct {
	Plant  string
	Serial string
}

// Key returns the device's composite key.
func (d Device) Key() DeviceKey {
	return DeviceKey{Plant: d.Plant, Serial: d.Serial}
}
