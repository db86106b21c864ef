// Package config loads the engine's YAML configuration: logging, progress
// polling, per-collective tuning and user plan policies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/plan"
	"github.com/rocketbitz/collective/status"
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	// Polls bounds the transport polls of one progress call.
	Polls int `yaml:"polls" validate:"min=1"`

	Bcast     BcastConfig    `yaml:"bcast"`
	Allreduce TreeConfig     `yaml:"allreduce"`
	Barrier   TreeConfig     `yaml:"barrier"`
	Scatterv  ScattervConfig `yaml:"scatterv"`
	Gatherv   KnomialConfig  `yaml:"gatherv"`
	Reduce    KnomialConfig  `yaml:"reduce"`

	// Policies are per-collective plan overrides, tried before the built-in
	// tables.
	Policies map[string][]plan.Entry `yaml:"policies" validate:"dive,dive"`
}

// BcastConfig tunes the broadcast algorithms.
type BcastConfig struct {
	KntreeDegree  int         `yaml:"kntree_degree" validate:"min=2"`
	NAInterDegree int         `yaml:"na_inter_degree" validate:"min=2"`
	NAIntraDegree int         `yaml:"na_intra_degree" validate:"min=2"`
	Batch         BatchConfig `yaml:"batch"`
}

// TreeConfig holds fan-in and fan-out degrees of the hierarchical variants.
type TreeConfig struct {
	FaninInterDegree  int `yaml:"fanin_inter_degree" validate:"min=2"`
	FanoutInterDegree int `yaml:"fanout_inter_degree" validate:"min=2"`
	FaninIntraDegree  int `yaml:"fanin_intra_degree" validate:"min=2"`
	FanoutIntraDegree int `yaml:"fanout_intra_degree" validate:"min=2"`
}

// ScattervConfig tunes scatterv.
type ScattervConfig struct {
	KntreeDegree int         `yaml:"kntree_degree" validate:"min=2"`
	Batch        BatchConfig `yaml:"batch"`
}

// KnomialConfig is the degree of a k-nomial tree.
type KnomialConfig struct {
	KntreeDegree int `yaml:"kntree_degree" validate:"min=2"`
}

// BatchConfig bounds the average message size for which a root posts all of
// its transfers at once.
type BatchConfig struct {
	Min Size `yaml:"min"`
	Max Size `yaml:"max"`
}

// Coll converts b for the algorithm packages.
func (b BatchConfig) Coll() coll.BatchConfig {
	return coll.BatchConfig{Min: int(b.Min), Max: int(b.Max)}
}

// Size is a byte count that may also be "auto" or unlimited ("max", "inf").
type Size int

// Size sentinels.
const (
	SizeAuto      = Size(coll.Auto)
	SizeUnlimited = Size(coll.Unlimited)
)

// ParseSize reads "auto", "max", "inf", a byte count or a humanized size.
func ParseSize(s string) (Size, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return SizeAuto, nil
	case "max", "inf", "unlimited":
		return SizeUnlimited, nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", s, err)
	}
	if v >= uint64(SizeUnlimited) {
		return SizeUnlimited, nil
	}
	return Size(v), nil
}

func (s Size) String() string {
	switch s {
	case SizeAuto:
		return "auto"
	case SizeUnlimited:
		return "max"
	}
	return strconv.Itoa(int(s))
}

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseSize(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = v
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	if s == SizeAuto || s == SizeUnlimited {
		return s.String(), nil
	}
	return int(s), nil
}

// Default returns the stock configuration.
func Default() Config {
	auto := BatchConfig{Min: SizeAuto, Max: SizeAuto}
	return Config{
		LogLevel: "info",
		Polls:    1,
		Bcast: BcastConfig{
			KntreeDegree:  4,
			NAInterDegree: 8,
			NAIntraDegree: 2,
			Batch:         auto,
		},
		Allreduce: TreeConfig{
			FaninInterDegree:  8,
			FanoutInterDegree: 8,
			FaninIntraDegree:  2,
			FanoutIntraDegree: 2,
		},
		Barrier: TreeConfig{
			FaninInterDegree:  8,
			FanoutInterDegree: 8,
			FaninIntraDegree:  4,
			FanoutIntraDegree: 2,
		},
		Scatterv: ScattervConfig{KntreeDegree: 2, Batch: auto},
		Gatherv:  KnomialConfig{KntreeDegree: 2},
		Reduce:   KnomialConfig{KntreeDegree: 2},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse overlays data on the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, status.Errorf(status.InvalidParam, "config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and the policy overrides.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return status.Errorf(status.InvalidParam, "config: %v", err)
	}
	for _, b := range []BatchConfig{c.Bcast.Batch, c.Scatterv.Batch} {
		if b.Min != SizeAuto && b.Max != SizeAuto && b.Min > b.Max {
			return status.Errorf(status.InvalidParam, "config: batch min %s above max %s", b.Min, b.Max)
		}
	}
	_, err := c.Overrides()
	return err
}

// Overrides returns the policy overrides keyed by collective.
func (c Config) Overrides() (map[coll.Type][]plan.Entry, error) {
	out := make(map[coll.Type][]plan.Entry, len(c.Policies))
	for name, entries := range c.Policies {
		t, err := coll.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("config: policies: %w", err)
		}
		out[t] = entries
	}
	return out, nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
