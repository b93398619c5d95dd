// Package profile loads per-vehicle channel calibration.
package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaName = "vehicle-profile-v1.json"

//go:embed schema/vehicle-profile-v1.json
var profileSchema []byte

// Profile is the on-disk calibration of one vehicle. Channels not listed
// keep their defaults.
type Profile struct {
	Vehicle  VehicleInfo     `yaml:"vehicle" json:"vehicle"`
	Channels []ChannelConfig `yaml:"channels" json:"channels"`
}

type VehicleInfo struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type ChannelConfig struct {
	Name         string   `yaml:"name" json:"name"`
	ValueMin     float64  `yaml:"value_min" json:"value_min"`
	ValueMax     float64  `yaml:"value_max" json:"value_max"`
	ValueNeutral float64  `yaml:"value_neutral" json:"value_neutral"`
	PWMMin       *float64 `yaml:"pwm_min,omitempty" json:"pwm_min,omitempty"`
	PWMMax       *float64 `yaml:"pwm_max,omitempty" json:"pwm_max,omitempty"`
	PWMNeutral   *float64 `yaml:"pwm_neutral,omitempty" json:"pwm_neutral,omitempty"`
}

type Loader struct {
	schema *jsonschema.Schema
}

func NewLoader() (*Loader, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, bytes.NewReader(profileSchema)); err != nil {
		return nil, fmt.Errorf("failed to add profile schema: %w", err)
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile profile schema: %w", err)
	}
	return &Loader{schema: schema}, nil
}

// Load reads the profile at path. An empty path yields the defaults.
func (l *Loader) Load(path string) (types.Calibrations, error) {
	if path == "" {
		return types.DefaultCalibrations(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Calibrations{}, fmt.Errorf("profile not found: %w", err)
	}

	cals, err := l.Parse(data)
	if err != nil {
		return types.Calibrations{}, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return cals, nil
}

// Parse validates a YAML profile and overlays it on the defaults.
func (l *Loader) Parse(data []byte) (types.Calibrations, error) {
	if err := l.checkSchema(data); err != nil {
		return types.Calibrations{}, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return types.Calibrations{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	cals := types.DefaultCalibrations()
	seen := make(map[types.Channel]bool)
	for _, c := range p.Channels {
		ch, ok := types.ChannelFromName(c.Name)
		if !ok {
			return types.Calibrations{}, fmt.Errorf("unknown channel %q", c.Name)
		}
		if seen[ch] {
			return types.Calibrations{}, fmt.Errorf("channel %s listed twice", ch)
		}
		seen[ch] = true

		cal := cals[ch]
		cal.ValueMin, cal.ValueMax, cal.ValueNeutral = c.ValueMin, c.ValueMax, c.ValueNeutral
		if c.PWMMin != nil {
			cal.PWMMin = *c.PWMMin
		}
		if c.PWMMax != nil {
			cal.PWMMax = *c.PWMMax
		}
		if c.PWMNeutral != nil {
			cal.PWMNeutral = *c.PWMNeutral
		}
		if err := cal.Validate(); err != nil {
			return types.Calibrations{}, fmt.Errorf("channel %s: %w", ch, err)
		}
		cals[ch] = cal
	}

	return cals, nil
}

// checkSchema validates the YAML document as the JSON values the schema
// is written for.
func (l *Loader) checkSchema(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to convert profile: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return fmt.Errorf("failed to convert profile: %w", err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return fmt.Errorf("vehicle profile does not match %s: %w", schemaName, err)
	}
	return nil
}
