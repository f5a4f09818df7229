package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Overrides are the runtime-tunable settings read from the optional YAML
// file. Zero values mean "keep the current setting".
type Overrides struct {
	LogLevel  string            `yaml:"log_level"`
	Broadcast BroadcastSettings `yaml:"broadcast"`
}

type BroadcastSettings struct {
	// Interval is a Go duration string (e.g. "45m", "1h").
	Interval string `yaml:"interval"`
	// SampleText replaces the payload of the periodic broadcast.
	SampleText string `yaml:"sample_text"`
}

// ParseOverrides decodes the YAML overrides document, rejecting unknown keys
// so typos fail loudly instead of being silently ignored.
func ParseOverrides(data []byte) (Overrides, error) {
	var o Overrides
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		// An empty file means no overrides.
		if errors.Is(err, io.EOF) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("parse overrides: %w", err)
	}
	if err := o.validate(); err != nil {
		return Overrides{}, err
	}
	return o, nil
}

func (o Overrides) validate() error {
	if raw := strings.TrimSpace(o.Broadcast.Interval); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("broadcast.interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("broadcast.interval: must be positive, got %q", raw)
		}
	}
	return nil
}

// IntervalDuration returns the parsed interval, ok=false when unset.
func (o Overrides) IntervalDuration() (time.Duration, bool) {
	raw := strings.TrimSpace(o.Broadcast.Interval)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
