package markers

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var builtinDefinitions embed.FS

// Activation rules for composed markers.
const (
	ActivationAny     = "any"
	ActivationAll     = "all"
	ActivationAtLeast = "at_least"
)

// Static errors.
var (
	ErrNoDefinitions      = errors.New("no marker definitions found")
	ErrDuplicateMarker    = errors.New("duplicate marker definition")
	ErrInvalidActivation  = errors.New("invalid activation rule")
	ErrEmptyComposition   = errors.New("composed marker has no constituents")
	ErrInvalidMarkerName  = errors.New("invalid marker name")
	ErrNoPatterns         = errors.New("atomic marker has no patterns")
	ErrInvalidClusterRule = errors.New("invalid cluster rule")
)

// Marker name prefixes of the three definition families.
const (
	prefixAtomic   = "ATO_"
	prefixComposed = "SEM_"
	prefixCluster  = "CLU_"
)

// AtomicDefinition describes an atomic marker and the patterns that detect it.
type AtomicDefinition struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// ComposedDefinition describes a semantic marker built from atomic markers.
type ComposedDefinition struct {
	Name       string   `yaml:"name"`
	ComposedOf []string `yaml:"composed_of"`
	Activation string   `yaml:"activation"`
	Min        int      `yaml:"min"`
}

// ClusterDefinition describes a conversation-scoped marker.
type ClusterDefinition struct {
	Name        string   `yaml:"name"`
	ComposedOf  []string `yaml:"composed_of"`
	MinMessages int      `yaml:"min_messages"`
	Window      int      `yaml:"window"`
	Alternating bool     `yaml:"alternating"`
}

// Definitions is the decoded content of one or more definition files.
type Definitions struct {
	Atomic   []AtomicDefinition   `yaml:"atos"`
	Composed []ComposedDefinition `yaml:"sems"`
	Clusters []ClusterDefinition  `yaml:"clus"`
}

var (
	builtinOnce     sync.Once
	builtinPipeline *Pipeline
	errBuiltin      error
)

// Builtin returns the pipeline compiled from the embedded definitions.
// The definitions are compiled once per process.
func Builtin() (*Pipeline, error) {
	builtinOnce.Do(func() {
		defs, err := readDefinitions(builtinDefinitions, "definitions")
		if err != nil {
			errBuiltin = err

			return
		}

		builtinPipeline, errBuiltin = Compile(defs)
	})

	return builtinPipeline, errBuiltin
}

// Load compiles the definitions found in dir. An empty dir selects the builtin set.
func Load(dir string) (*Pipeline, error) {
	if strings.TrimSpace(dir) == "" {
		return Builtin()
	}

	defs, err := readDefinitions(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read marker definitions from %s: %w", dir, err)
	}

	return Compile(defs)
}

// Parse decodes a single YAML definition document.
func Parse(data []byte) (Definitions, error) {
	var defs Definitions

	err := yaml.Unmarshal(data, &defs)
	if err != nil {
		return Definitions{}, fmt.Errorf("failed to unmarshal marker definitions: %w", err)
	}

	return defs, nil
}

func readDefinitions(fsys fs.FS, root string) (Definitions, error) {
	var merged Definitions

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return merged, fmt.Errorf("failed to list definition files: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	for _, name := range names {
		data, readErr := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, name)))
		if readErr != nil {
			return merged, fmt.Errorf("failed to read %s: %w", name, readErr)
		}

		defs, parseErr := Parse(data)
		if parseErr != nil {
			return merged, fmt.Errorf("%s: %w", name, parseErr)
		}

		merged.Atomic = append(merged.Atomic, defs.Atomic...)
		merged.Composed = append(merged.Composed, defs.Composed...)
		merged.Clusters = append(merged.Clusters, defs.Clusters...)
	}

	if len(merged.Atomic) == 0 {
		return merged, ErrNoDefinitions
	}

	return merged, nil
}

// Validate checks names, activation rules and uniqueness.
func (d Definitions) Validate() error {
	seen := make(map[string]struct{})

	checkName := func(name, prefix string) error {
		if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
			return fmt.Errorf("%w: %q must start with %s", ErrInvalidMarkerName, name, prefix)
		}

		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMarker, name)
		}

		seen[name] = struct{}{}

		return nil
	}

	for _, ato := range d.Atomic {
		nameErr := checkName(ato.Name, prefixAtomic)
		if nameErr != nil {
			return nameErr
		}

		if len(ato.Patterns) == 0 {
			return fmt.Errorf("%w: %s", ErrNoPatterns, ato.Name)
		}
	}

	for _, sem := range d.Composed {
		nameErr := checkName(sem.Name, prefixComposed)
		if nameErr != nil {
			return nameErr
		}

		if len(sem.ComposedOf) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyComposition, sem.Name)
		}

		switch sem.Activation {
		case "", ActivationAny, ActivationAll:
		case ActivationAtLeast:
			if sem.Min < 1 || sem.Min > len(sem.ComposedOf) {
				return fmt.Errorf("%w: %s needs 1 <= min <= %d", ErrInvalidActivation, sem.Name, len(sem.ComposedOf))
			}
		default:
			return fmt.Errorf("%w: %s has %q", ErrInvalidActivation, sem.Name, sem.Activation)
		}
	}

	for _, clu := range d.Clusters {
		nameErr := checkName(clu.Name, prefixCluster)
		if nameErr != nil {
			return nameErr
		}

		if len(clu.ComposedOf) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyComposition, clu.Name)
		}

		if clu.MinMessages < 1 || clu.Window < clu.MinMessages {
			return fmt.Errorf("%w: %s needs 1 <= min_messages <= window", ErrInvalidClusterRule, clu.Name)
		}
	}

	return nil
}

// Compile validates the definitions and compiles every pattern.
func Compile(defs Definitions) (*Pipeline, error) {
	validateErr := defs.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	pipeline := &Pipeline{
		atomic:   make([]compiledAtomic, 0, len(defs.Atomic)),
		composed: defs.Composed,
		clusters: defs.Clusters,
	}

	for _, ato := range defs.Atomic {
		compiled := compiledAtomic{name: ato.Name}

		for _, pattern := range ato.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %q of %s: %w", pattern, ato.Name, err)
			}

			compiled.patterns = append(compiled.patterns, re)
		}

		pipeline.atomic = append(pipeline.atomic, compiled)
	}

	return pipeline, nil
}
