package poller

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	anomaly "solarwatch/internal/anomaly/domain"
	telemetry "solarwatch/internal/telemetry/domain"
)

// PlantConfig describes one plant and its inverters.
type PlantConfig struct {
	Name       string             `yaml:"name"`
	Devices    []telemetry.Device `yaml:"devices"`
	Thresholds anomaly.Thresholds `yaml:"thresholds"`
}

// WindowConfig defines the local-hour alert delivery window, inclusive on
// both ends.
type WindowConfig struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Config defines the polling fleet.
type Config struct {
	Plants           []PlantConfig      `yaml:"plants"`
	Defaults         anomaly.Thresholds `yaml:"thresholds"`
	PollInterval     time.Duration      `yaml:"poll_interval"`
	FetchConcurrency int                `yaml:"fetch_concurrency"`
	DeliveryWindow   WindowConfig       `yaml:"delivery_window"`
	LedgerPath       string             `yaml:"ledger_path"`
}

// LoadConfig loads fleet config from yaml, with env fallbacks for the
// scalar settings. An empty path falls back to FLEET_CONFIG.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		PollInterval:     getenvDuration("POLL_INTERVAL", 10*time.Minute),
		FetchConcurrency: 10,
		DeliveryWindow:   WindowConfig{StartHour: 8, EndHour: 16},
		LedgerPath:       getenvDefault("LEDGER_PATH", "message_history.json"),
	}

	if path == "" {
		path = os.Getenv("FLEET_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// normalize fills device back-references and validates the fleet.
func (c *Config) normalize() error {
	if len(c.Plants) == 0 {
		return errors.New("poller config: no plants configured")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Minute
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 10
	}
	if c.DeliveryWindow.StartHour > c.DeliveryWindow.EndHour {
		return fmt.Errorf("poller config: delivery window %d-%d inverted", c.DeliveryWindow.StartHour, c.DeliveryWindow.EndHour)
	}
	seen := make(map[telemetry.DeviceKey]struct{})
	for i := range c.Plants {
		plant := &c.Plants[i]
		if plant.Name == "" {
			return errors.New("poller config: plant without name")
		}
		if len(plant.Devices) == 0 {
			return fmt.Errorf("poller config: plant %s has no devices", plant.Name)
		}
		for j := range plant.Devices {
			device := &plant.Devices[j]
			device.Plant = plant.Name
			if err := device.Validate(); err != nil {
				return fmt.Errorf("poller config: plant %s: %w", plant.Name, err)
			}
			key := device.Key()
			if _, dup := seen[key]; dup {
				return fmt.Errorf("poller config: duplicate device %s/%s", key.Plant, key.Serial)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// ThresholdsForPlant overlays the plant's overrides onto the fleet
// defaults. Hard defaults are applied later by the detector.
func (c Config) ThresholdsForPlant(name string) anomaly.Thresholds {
	for _, plant := range c.Plants {
		if plant.Name == name {
			return c.Defaults.Merge(plant.Thresholds)
		}
	}
	return c.Defaults
}

// Devices returns all configured devices with their plant back-references
// filled.
func (c Config) Devices() []telemetry.Device {
	devices := make([]telemetry.Device, 0, c.DeviceCount())
	for _, plant := range c.Plants {
		devices = append(devices, plant.Devices...)
	}
	return devices
}

// DeviceCount returns the total number of configured devices.
func (c Config) DeviceCount() int {
	count := 0
	for _, plant := range c.Plants {
		count += len(plant.Devices)
	}
	return count
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
