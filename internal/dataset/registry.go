package dataset

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
)

// Kind names a registered dataset source.
type Kind string

// Built-in kinds.
const (
	KindIDX     Kind = "idx"
	KindCSV     Kind = "csv"
	KindCIFAR10 Kind = "cifar10"
)

// Config describes which data to load and how to present it.
type Config struct {
	Kind         Kind   `yaml:"kind"`
	Path         string `yaml:"path"`
	Train        bool   `yaml:"train"`
	BatchSize    int    `yaml:"batch_size"`
	SubsetSize   int    `yaml:"subset_size"` // < 0 selects every example
	RandomLabels bool   `yaml:"random_labels"`
	Seed         uint64 `yaml:"seed"`
}

// Validate checks the configuration against the registry.
func (c Config) Validate() error {
	if _, err := Lookup(c.Kind); err != nil {
		return err
	}
	if c.Path == "" {
		return fmt.Errorf("%w: path is required for kind %q", ErrInvalidConfig, c.Kind)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size %d", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}

// Loader reads every example of a source.
type Loader func(cfg Config) (*Examples, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Loader{
		KindIDX:     LoadIDX,
		KindCSV:     LoadCSV,
		KindCIFAR10: LoadCIFAR10,
	}
)

// Register adds a loader for kind, replacing any previous one.
func Register(kind Kind, loader Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = loader
}

// Lookup returns the loader registered for kind.
func Lookup(kind Kind) (Loader, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	loader, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return loader, nil
}

// Kinds returns the registered kinds, sorted.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Open loads the configured source, draws the subset, optionally replaces
// the labels and batches the result.
func Open(cfg Config, logger *slog.Logger) (*Memory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loader, err := Lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}

	split := "validation"
	if cfg.Train {
		split = "training"
	}
	logger.Info("loading dataset",
		"kind", cfg.Kind,
		"split", split,
		"batch_size", cfg.BatchSize,
		"subset_size", cfg.SubsetSize,
		"random_labels", cfg.RandomLabels)

	examples, err := loader(cfg)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", cfg.Kind, err)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	if cfg.RandomLabels {
		RandomizeLabels(examples, rng)
	}
	examples = Subset(examples, cfg.SubsetSize, rng)

	return NewMemory(examples, cfg.BatchSize)
}

// Subset returns size examples drawn without replacement in random order.
// A negative size selects every example in random order; sizes above the
// example count are clamped.
func Subset(e *Examples, size int, rng *rand.Rand) *Examples {
	n := e.Len()
	if size < 0 || size > n {
		size = n
	}
	perm := rng.Perm(n)[:size]

	width := e.Shape.NumElements()
	out := &Examples{
		Shape:      e.Shape.Clone(),
		Data:       make([]float64, 0, size*width),
		Labels:     make([]int, size),
		NumClasses: e.NumClasses,
	}
	for i, idx := range perm {
		out.Data = append(out.Data, e.Example(idx)...)
		out.Labels[i] = e.Labels[idx]
	}
	return out
}

// RandomizeLabels replaces every label by a uniformly drawn class.
func RandomizeLabels(e *Examples, rng *rand.Rand) {
	if e.NumClasses <= 0 {
		return
	}
	for i := range e.Labels {
		e.Labels[i] = rng.IntN(e.NumClasses)
	}
}
