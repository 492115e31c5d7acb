// Package devicesim replays scripted ESP32 camera traffic against the ingest API.
package devicesim

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration TOML string duration such as "1m" or "30s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Scenario a set of devices stepping in lockstep
type Scenario struct {
	Name    string    `toml:"name"`
	BaseURL string    `toml:"base_url"`
	Start   time.Time `toml:"start"`
	// Interval simulated time between steps
	Interval Duration `toml:"interval"`
	// Realtime sleep Interval between steps instead of replaying at once
	Realtime bool     `toml:"realtime"`
	Devices  []Device `toml:"device"`
}

// Device one simulated camera
type Device struct {
	DeviceID string `toml:"device_id"`
	Steps    []Step `toml:"step"`
}

// Step people passing a camera since the previous step
type Step struct {
	Entries int     `toml:"entries"`
	Exits   int     `toml:"exits"`
	Density float64 `toml:"density"`
	// Reset zeroes the counters first, as a rebooted device does
	Reset bool `toml:"reset"`
	// Skip sends nothing for this step
	Skip bool `toml:"skip"`
}

// LoadScenario reads a TOML scenario file
func LoadScenario(path string) (*Scenario, error) {
	var sc Scenario
	md, err := toml.DecodeFile(path, &sc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scenario %s: %w", path, err)
	}
	return finish(&sc, md)
}

// ParseScenario decodes a TOML scenario
func ParseScenario(data string) (*Scenario, error) {
	var sc Scenario
	md, err := toml.Decode(data, &sc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return finish(&sc, md)
}

func finish(sc *Scenario, md toml.MetaData) (*Scenario, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown scenario keys: %s", strings.Join(keys, ", "))
	}
	if sc.BaseURL == "" {
		sc.BaseURL = "http://localhost:8080"
	}
	if sc.Interval.Duration <= 0 {
		sc.Interval.Duration = time.Minute
	}
	if sc.Start.IsZero() {
		sc.Start = time.Now().UTC().Truncate(time.Minute)
	}
	if len(sc.Devices) == 0 {
		return nil, fmt.Errorf("scenario has no devices")
	}
	for i, d := range sc.Devices {
		if d.DeviceID == "" {
			return nil, fmt.Errorf("device %d has no device_id", i)
		}
		for j, s := range d.Steps {
			if s.Entries < 0 || s.Exits < 0 {
				return nil, fmt.Errorf("device %s step %d: negative counts", d.DeviceID, j)
			}
		}
	}
	return sc, nil
}

// Steps longest step list over all devices
func (sc *Scenario) Steps() int {
	n := 0
	for _, d := range sc.Devices {
		if len(d.Steps) > n {
			n = len(d.Steps)
		}
	}
	return n
}
