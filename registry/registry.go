package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// Registry holds the case catalog: descriptors, probes and the named groups.
type Registry struct {
	config Config
	cases  map[int]types.CaseDescriptor
	order  []int
	groups map[string][]int
	probes map[int]probe.Probe
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log     log.Logger
	Catalog []byte              // YAML catalog of cases and groups
	Probes  map[int]probe.Probe // Probe per case number
}

// catalogFile is the on-disk layout of a case catalog
type catalogFile struct {
	Cases  []types.CaseDescriptor `yaml:"cases"`
	Groups map[string][]int       `yaml:"groups"`
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if len(cfg.Catalog) == 0 {
		return nil, fmt.Errorf("case catalog is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config: cfg,
	}

	if err := r.load(cfg.Catalog, cfg.Probes); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(cases)", len(r.cases), "len(groups)", len(r.groups))

	return r, nil
}

func (r *Registry) load(data []byte, probes map[int]probe.Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}

	cases := make(map[int]types.CaseDescriptor, len(catalog.Cases))
	order := make([]int, 0, len(catalog.Cases))
	for _, c := range catalog.Cases {
		if c.Number <= 0 {
			return fmt.Errorf("case number must be positive, got %d", c.Number)
		}
		if _, exists := cases[c.Number]; exists {
			return fmt.Errorf("duplicate case number %d", c.Number)
		}
		if strings.TrimSpace(c.Description) == "" {
			return fmt.Errorf("case %d has no description", c.Number)
		}
		cases[c.Number] = c
		order = append(order, c.Number)
	}
	sort.Ints(order)

	if err := validateGroups(catalog.Groups, cases); err != nil {
		return err
	}

	for _, n := range order {
		if probes[n] == nil {
			return fmt.Errorf("no probe registered for case %d", n)
		}
	}
	for n := range probes {
		if _, ok := cases[n]; !ok {
			return fmt.Errorf("probe registered for unknown case %d", n)
		}
	}

	r.cases = cases
	r.order = order
	r.groups = catalog.Groups
	r.probes = probes
	return nil
}

func validateGroups(groups map[string][]int, cases map[int]types.CaseDescriptor) error {
	if len(groups) != len(types.GroupNames) {
		return fmt.Errorf("catalog must define exactly the groups %s, got %d group(s)",
			strings.Join(types.GroupNames, ", "), len(groups))
	}
	for _, name := range types.GroupNames {
		members, ok := groups[name]
		if !ok {
			return fmt.Errorf("catalog is missing group %q", name)
		}
		seen := make(map[int]bool, len(members))
		for _, n := range members {
			if _, ok := cases[n]; !ok {
				return fmt.Errorf("group %q references unknown case %d", name, n)
			}
			if seen[n] {
				return fmt.Errorf("group %q lists case %d more than once", name, n)
			}
			seen[n] = true
		}
	}
	return nil
}

// Describe returns the descriptor of a registered case.
func (r *Registry) Describe(n int) (types.CaseDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.cases[n]
	if !ok {
		return types.CaseDescriptor{}, types.NewFailure(types.ResultError, "unknown test case (%d)", n)
	}
	return desc, nil
}

// Probe returns the probe registered for a case.
func (r *Registry) Probe(n int) (probe.Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.probes[n]
	if !ok {
		return nil, types.NewFailure(types.ResultError, "unknown test case (%d)", n)
	}
	return p, nil
}

// Resolve turns a selector into the ordered list of case numbers to run.
// An all-digit selector names a single case. Anything else names a group, ignoring case.
func (r *Registry) Resolve(selector string) ([]int, error) {
	selector = strings.TrimSpace(selector)

	if isDigits(selector) {
		n, err := strconv.Atoi(selector)
		if err != nil {
			return nil, types.NewFailure(types.ResultError, "invalid test case number (%s)", selector)
		}
		if _, err := r.Describe(n); err != nil {
			return nil, err
		}
		return []int{n}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, members := range r.groups {
		if strings.EqualFold(name, selector) {
			return append([]int(nil), members...), nil
		}
	}
	return nil, types.NewFailure(types.ResultError, "invalid test case group (%s)", selector)
}

// IsGroup reports whether the selector names a group rather than a single case.
func (r *Registry) IsGroup(selector string) bool {
	return !isDigits(strings.TrimSpace(selector))
}

// Groups lists the groups in presentation order.
func (r *Registry) Groups() []types.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]types.Group, 0, len(types.GroupNames))
	for _, name := range types.GroupNames {
		groups = append(groups, types.Group{
			Name:  name,
			Cases: append([]int(nil), r.groups[name]...),
		})
	}
	return groups
}

// Cases lists every registered case ordered by number.
func (r *Registry) Cases() []types.CaseDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cases := make([]types.CaseDescriptor, 0, len(r.order))
	for _, n := range r.order {
		cases = append(cases, r.cases[n])
	}
	return cases
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
