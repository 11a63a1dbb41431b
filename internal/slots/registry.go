package slots

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"qcache/internal/types"
)

const (
	keySeparator  = ":"
	slotSeparator = "_"
)

// Slot is one (topic, difficulty) combination eligible for pre-warming.
type Slot struct {
	Topic      string `yaml:"topic" json:"topic"`
	Difficulty string `yaml:"difficulty" json:"difficulty"`
}

// Suffix returns the "topic_difficulty" part of a pool key.
func (s Slot) Suffix() string {
	return s.Topic + slotSeparator + s.Difficulty
}

func (s Slot) String() string {
	return s.Suffix()
}

func (s Slot) validate() error {
	if s.Topic == "" || s.Difficulty == "" {
		return fmt.Errorf("topic and difficulty are required")
	}
	for _, v := range []string{s.Topic, s.Difficulty} {
		if strings.Contains(v, keySeparator) || strings.Contains(v, slotSeparator) {
			return fmt.Errorf("%q must not contain %q or %q", v, keySeparator, slotSeparator)
		}
	}
	return nil
}

// Registry is the fixed, ordered catalog of slots. It is immutable once built.
type Registry struct {
	slots    []Slot
	bySuffix map[string]Slot
}

var (
	defaultTopics       = []string{"general", "culture", "technology", "life", "history"}
	defaultDifficulties = []string{types.DifficultyMedium, types.DifficultyHard, types.DifficultyAdvanced}
)

// Default returns the stock registry: every default topic crossed with every difficulty, topic major.
func Default() *Registry {
	var all []Slot
	for _, t := range defaultTopics {
		for _, d := range defaultDifficulties {
			all = append(all, Slot{Topic: t, Difficulty: d})
		}
	}
	r, err := NewRegistry(all...)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistry builds a registry keeping the given order. Duplicates are dropped.
func NewRegistry(slots ...Slot) (*Registry, error) {
	if len(slots) == 0 {
		return nil, types.Err(types.ErrInvalidConfig, nil, "registry needs at least one slot")
	}
	r := &Registry{bySuffix: make(map[string]Slot, len(slots))}
	for _, s := range slots {
		if err := s.validate(); err != nil {
			return nil, types.Err(types.ErrInvalidConfig, err, "invalid slot %v", s)
		}
		if _, ok := r.bySuffix[s.Suffix()]; ok {
			continue
		}
		r.bySuffix[s.Suffix()] = s
		r.slots = append(r.slots, s)
	}
	return r, nil
}

type registryFile struct {
	Slots []Slot `yaml:"slots"`
}

// LoadRegistry reads a YAML file of the form:
//
//	slots:
//	  - topic: general
//	    difficulty: medium
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Err(types.ErrInvalidConfig, err, "read %s", path)
	}
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, types.Err(types.ErrInvalidConfig, err, "parse %s", path)
	}
	return NewRegistry(f.Slots...)
}

// Slots returns the registered slots in registration order.
func (r *Registry) Slots() []Slot {
	out := make([]Slot, len(r.slots))
	copy(out, r.slots)
	return out
}

// Match returns the slot registered under a "topic_difficulty" suffix.
func (r *Registry) Match(suffix string) (Slot, bool) {
	s, ok := r.bySuffix[suffix]
	return s, ok
}

func (r *Registry) Contains(s Slot) bool {
	_, ok := r.bySuffix[s.Suffix()]
	return ok
}

func (r *Registry) Len() int {
	return len(r.slots)
}
