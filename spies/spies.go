// Package spies resolves spy persona profiles. Profiles are YAML files in a
// directory, one per spy, cached in memory after first load; the repository
// also supports creating and searching profiles at runtime.
package spies

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/model"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a spy ID does not resolve to a profile
var ErrNotFound = errors.New("spy not found")

// Repository loads and caches spy profiles
type Repository struct {
	rootPath string
	mu       sync.RWMutex
	cache    map[string]model.SpyProfile
}

// NewRepository creates a repository backed by a directory of YAML profiles.
// The directory may be empty or missing; profiles can be added with Create.
func NewRepository(rootPath string) (*Repository, error) {
	r := &Repository{
		rootPath: rootPath,
		cache:    make(map[string]model.SpyProfile),
	}
	if rootPath != "" {
		if err := r.loadAll(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// loadAll reads every *.yaml profile under the root path into the cache
func (r *Repository) loadAll() error {
	entries, err := os.ReadDir(r.rootPath)
	if os.IsNotExist(err) {
		log.Log.Debugf("spy profile directory %s does not exist, starting empty", r.rootPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read spy profile directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(r.rootPath, entry.Name())
		profile, err := loadProfile(path)
		if err != nil {
			log.Log.Warnf("skipping malformed spy profile %s: %v", path, err)
			continue
		}
		r.cache[profile.ID] = profile
	}

	log.Log.Infof("loaded %d spy profiles from %s", len(r.cache), r.rootPath)
	return nil
}

func loadProfile(path string) (model.SpyProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SpyProfile{}, err
	}
	var profile model.SpyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return model.SpyProfile{}, fmt.Errorf("invalid YAML: %w", err)
	}
	if profile.ID == "" {
		// Fall back to the filename so hand-written profiles don't need an
		// explicit id field.
		profile.ID = strings.TrimSuffix(filepath.Base(path), ".yaml")
	}
	return profile, nil
}

// Resolve returns the profile for a spy ID. Returns ErrNotFound for
// unknown spies.
func (r *Repository) Resolve(spyID string) (model.SpyProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.cache[spyID]
	if !ok {
		return model.SpyProfile{}, fmt.Errorf("%w: %s", ErrNotFound, spyID)
	}
	return profile, nil
}

// List returns all known profiles sorted by ID
func (r *Repository) List() []model.SpyProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.SpyProfile, 0, len(r.cache))
	for _, profile := range r.cache {
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create registers a new profile, assigning an ID if none is set.
// The profile is persisted to the root path when one is configured.
func (r *Repository) Create(profile model.SpyProfile) (model.SpyProfile, error) {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache[profile.ID]; exists {
		return model.SpyProfile{}, fmt.Errorf("spy already exists: %s", profile.ID)
	}
	r.cache[profile.ID] = profile

	if r.rootPath != "" {
		if err := r.persist(profile); err != nil {
			log.Log.Warnf("failed to persist spy profile %s: %v", profile.ID, err)
		}
	}
	return profile, nil
}

func (r *Repository) persist(profile model.SpyProfile) error {
	if err := os.MkdirAll(r.rootPath, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(profile)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.rootPath, profile.ID+".yaml"), data, 0644)
}

// Update replaces an existing profile. The profile's ID selects the spy to
// update and cannot be changed. Returns ErrNotFound for unknown spies.
func (r *Repository) Update(profile model.SpyProfile) (model.SpyProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[profile.ID]; !ok {
		return model.SpyProfile{}, fmt.Errorf("%w: %s", ErrNotFound, profile.ID)
	}
	r.cache[profile.ID] = profile

	if r.rootPath != "" {
		if err := r.persist(profile); err != nil {
			log.Log.Warnf("failed to persist spy profile %s: %v", profile.ID, err)
		}
	}
	return profile, nil
}

// ResolveByCodename returns the profile carrying a codename,
// case-insensitively. Returns ErrNotFound when no spy uses it.
func (r *Repository) ResolveByCodename(codename string) (model.SpyProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, profile := range r.cache {
		if strings.EqualFold(profile.Codename, codename) {
			return profile, nil
		}
	}
	return model.SpyProfile{}, fmt.Errorf("%w: codename %s", ErrNotFound, codename)
}

// Delete removes a profile, reporting whether it existed. The YAML file, if
// any, is removed as well.
func (r *Repository) Delete(spyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[spyID]; !ok {
		return false
	}
	delete(r.cache, spyID)

	if r.rootPath != "" {
		if err := os.Remove(filepath.Join(r.rootPath, spyID+".yaml")); err != nil && !os.IsNotExist(err) {
			log.Log.Warnf("failed to remove spy profile file for %s: %v", spyID, err)
		}
	}
	return true
}

// SearchBySpecialty returns profiles whose specialty matches, case-insensitively
func (r *Repository) SearchBySpecialty(specialty string) []model.SpyProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(specialty)
	var out []model.SpyProfile
	for _, profile := range r.cache {
		if strings.ToLower(profile.Specialty) == needle {
			out = append(out, profile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Seed inserts the given profiles if their IDs are not already present.
// Used by the composition root to guarantee a usable roster on first run.
func (r *Repository) Seed(profiles []model.SpyProfile) {
	for _, profile := range profiles {
		r.mu.RLock()
		_, exists := r.cache[profile.ID]
		r.mu.RUnlock()
		if exists {
			continue
		}
		if _, err := r.Create(profile); err != nil {
			log.Log.Warnf("failed to seed spy %s: %v", profile.ID, err)
		}
	}
}

// DefaultRoster returns the built-in spy profiles used when no profile
// directory is configured
func DefaultRoster() []model.SpyProfile {
	return []model.SpyProfile{
		{
			ID:        "spy-7",
			Name:      "Vera Cruz",
			Codename:  "NIGHTSHADE",
			Biography: "Former cryptographer turned field operative. Fifteen years undercover across three continents.",
			Specialty: "signals intelligence",
		},
		{
			ID:        "spy-12",
			Name:      "Marcus Webb",
			Codename:  "HALCYON",
			Biography: "Ex-naval intelligence. Speaks six languages, trusts nobody in any of them.",
			Specialty: "extraction",
		},
		{
			ID:        "spy-23",
			Name:      "Ilsa Moreau",
			Codename:  "VESPER",
			Biography: "Art forger recruited after a sting in Vienna. Knows every auction house back room in Europe.",
			Specialty: "covert acquisition",
		},
	}
}
