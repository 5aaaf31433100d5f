package validation

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SectorDefinition is one entry of a sector registry file
type SectorDefinition struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// registryFile is the YAML layout of a sector registry file
type registryFile struct {
	AllowDynamic *bool              `yaml:"allow_dynamic"`
	Sectors      []SectorDefinition `yaml:"sectors"`
}

// SectorRegistry is the known, optionally self-extending, set of sectors.
// Lookups are case-insensitive and resolve aliases to the canonical name.
type SectorRegistry struct {
	mu           sync.RWMutex
	lookup       map[string]string // lower-cased name or alias -> canonical name
	canonical    map[string]struct{}
	allowDynamic bool
}

// NewSectorRegistry creates a registry from a list of canonical names
func NewSectorRegistry(known []string, allowDynamic bool) *SectorRegistry {
	r := &SectorRegistry{
		lookup:       make(map[string]string),
		canonical:    make(map[string]struct{}),
		allowDynamic: allowDynamic,
	}
	for _, name := range known {
		r.add(SectorDefinition{Name: name})
	}
	return r
}

// LoadSectorRegistry reads a YAML registry file on top of the configured known sectors.
// allow_dynamic in the file overrides the configured value.
func LoadSectorRegistry(path string, known []string, allowDynamic bool) (*SectorRegistry, error) {
	r := NewSectorRegistry(known, allowDynamic)
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sector registry %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sector registry %s: %w", path, err)
	}

	for _, def := range file.Sectors {
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("sector registry %s: entry without a name", path)
		}
		r.add(def)
	}
	if file.AllowDynamic != nil {
		r.allowDynamic = *file.AllowDynamic
	}

	return r, nil
}

func (r *SectorRegistry) add(def SectorDefinition) {
	name := strings.TrimSpace(def.Name)
	r.canonical[name] = struct{}{}
	r.lookup[strings.ToLower(name)] = name
	for _, alias := range def.Aliases {
		if alias = strings.TrimSpace(alias); alias != "" {
			r.lookup[strings.ToLower(alias)] = name
		}
	}
}

// Lookup maps a raw sector name onto its canonical form without registering anything
func (r *SectorRegistry) Lookup(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.lookup[key]
	return canonical, ok
}

// AllowsDynamic reports whether unknown sectors are accepted
func (r *SectorRegistry) AllowsDynamic() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allowDynamic
}

// Register adds canonical names that are not known yet, whatever the dynamic setting
func (r *SectorRegistry) Register(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.lookup[strings.ToLower(name)]; ok {
			continue
		}
		r.add(SectorDefinition{Name: name})
	}
}

// Resolve maps a raw sector name onto its canonical form.
// Unknown sectors are registered when the registry is dynamic, rejected otherwise.
func (r *SectorRegistry) Resolve(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", false
	}
	key := strings.ToLower(name)

	r.mu.RLock()
	canonical, ok := r.lookup[key]
	dynamic := r.allowDynamic
	r.mu.RUnlock()

	if ok {
		return canonical, true
	}
	if !dynamic {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another row may have registered it meanwhile
	if canonical, ok := r.lookup[key]; ok {
		return canonical, true
	}
	r.add(SectorDefinition{Name: name})
	return name, true
}

// List returns the canonical sector names in alphabetical order
func (r *SectorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.canonical))
	for name := range r.canonical {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
