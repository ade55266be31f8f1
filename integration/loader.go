package integration

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/marcelsud/webhook-intake/webhook"
	"gopkg.in/yaml.v3"
)

/* Loader manages integration configuration from integrations.yaml
 * Provides in-memory lookup for fast access
 */

// Config represents the structure of integrations.yaml
type Config struct {
	Integrations []Integration `yaml:"integrations"`
}

// Loader holds the loaded integrations
type Loader struct {
	mu           sync.RWMutex
	integrations map[string]Integration
}

// NewLoader creates a new integration loader
func NewLoader() *Loader {
	return &Loader{
		integrations: make(map[string]Integration),
	}
}

// Load reads and parses an integrations file, adding every entry
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading integrations file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing integrations YAML: %w", err)
	}

	seen := make(map[string]bool, len(config.Integrations))
	for _, in := range config.Integrations {
		if seen[in.ID] {
			return fmt.Errorf("duplicate integration id %q", in.ID)
		}
		seen[in.ID] = true

		if err := l.Add(in); err != nil {
			return err
		}
	}
	return nil
}

// Add validates and registers one integration, replacing any with the same id
func (l *Loader) Add(in Integration) error {
	in.Platform = webhook.NewPlatform(in.Platform.String())
	in.ResolveSecret()
	if err := in.Validate(); err != nil {
		return fmt.Errorf("validating integration: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.integrations[in.ID] = in
	return nil
}

// Get retrieves an integration by its id
func (l *Loader) Get(id string) (Integration, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	in, exists := l.integrations[id]
	if !exists {
		return Integration{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return in, nil
}

// Find implements Finder
func (l *Loader) Find(_ context.Context, id string) (Integration, error) {
	return l.Get(id)
}

// List returns all loaded integrations ordered by id
func (l *Loader) List() []Integration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := make([]Integration, 0, len(l.integrations))
	for _, in := range l.integrations {
		list = append(list, in)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Exists checks if an integration id exists
func (l *Loader) Exists(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.integrations[id]
	return exists
}
