package localstore

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture is the YAML shape loaded by LoadFixture: a synthetic multi-host
// fleet description, for CLI demos and fan-out tests without real
// machines (§12.1). Each metric's samples are given explicit
// (offset_seconds, value) pairs rather than generated, so a fixture can
// encode an exact, reproducible highlight-vs-baseline signal.
type Fixture struct {
	Hosts []FixtureHost `yaml:"hosts"`
}

type FixtureHost struct {
	ID       string           `yaml:"id"`
	Hostname string           `yaml:"hostname"`
	Contexts []FixtureContext `yaml:"contexts"`
}

type FixtureContext struct {
	ID        string            `yaml:"id"`
	Queryable *bool             `yaml:"queryable"`
	Instances []FixtureInstance `yaml:"instances"`
}

type FixtureInstance struct {
	ID      string          `yaml:"id"`
	Metrics []FixtureMetric `yaml:"metrics"`
}

type FixtureMetric struct {
	ID      string          `yaml:"id"`
	Samples []FixtureSample `yaml:"samples"`
}

type FixtureSample struct {
	OffsetSeconds int64   `yaml:"offset_seconds"`
	Value         float64 `yaml:"value"`
}

// LoadFixtureFile reads a YAML fixture from path and applies it to store,
// anchoring every sample's offset_seconds to epoch (epoch + offset).
func LoadFixtureFile(store *Store, path string, epoch int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return LoadFixture(store, data, epoch)
}

// LoadFixture parses YAML fixture data and records every sample into
// store, anchored at epoch.
func LoadFixture(store *Store, data []byte, epoch int64) error {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return err
	}

	for _, h := range fx.Hosts {
		for _, c := range h.Contexts {
			for _, inst := range c.Instances {
				for _, m := range inst.Metrics {
					for _, s := range m.Samples {
						store.Record(h.ID, h.Hostname, c.ID, inst.ID, m.ID, epoch+s.OffsetSeconds, s.Value)
					}
				}
			}
			if c.Queryable != nil {
				store.SetContextQueryable(h.ID, c.ID, *c.Queryable)
			}
		}
	}
	return nil
}
