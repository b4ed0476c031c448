// Package settings persists the monitor configuration and check state as a single
// JSON document in a storage backend.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"gopkg.in/yaml.v3"
)

// Key is the storage key of the settings document.
const Key = "settings.json"

const (
	DefaultHealthyInterval = 60 * time.Minute
	DefaultRevokedInterval = 5 * time.Minute

	// InitialStatus is reported before the first check completes.
	InitialStatus = "Ready"
)

var validate = validator.New()

// Default returns the settings used before anything was persisted.
func Default() interfaces.Settings {
	return interfaces.Settings{
		Enabled: false,
		Schedule: interfaces.ScheduleConfig{
			HealthyInterval: DefaultHealthyInterval,
			RevokedInterval: DefaultRevokedInterval,
			Constraints: interfaces.Constraints{
				Network: interfaces.NetworkAny,
			},
		},
		State: interfaces.CheckState{
			LastStatus: InitialStatus,
		},
	}
}

// Validate checks user-controlled fields. Errors wrap interfaces.ErrInvalidSettings.
func Validate(s *interfaces.Settings) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSettings, err)
	}
	return nil
}

// LoadSeed reads a YAML settings seed on top of Default. Only the enabled flag and
// the schedule can be seeded; check state always starts fresh.
//
//	enabled: true
//	schedule:
//	  healthy_interval: 60m
//	  revoked_interval: 5m
//	  constraints:
//	    network: unmetered
//	    require_charging: false
func LoadSeed(r io.Reader) (interfaces.Settings, error) {
	s := Default()
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return interfaces.Settings{}, fmt.Errorf("failed to decode settings seed: %w", err)
	}
	s.State = Default().State
	if err := Validate(&s); err != nil {
		return interfaces.Settings{}, err
	}
	return s, nil
}

// Store implements interfaces.SettingsStore on top of a storage backend.
// Updates are serialized; reads see either the previous or the next document.
type Store struct {
	backend interfaces.StorageBackend
	log     *slog.Logger

	mu sync.Mutex
}

func NewStore(backend interfaces.StorageBackend, log *slog.Logger) *Store {
	return &Store{backend: backend, log: log}
}

// Snapshot returns a copy of the current settings, or Default if none were stored yet.
func (s *Store) Snapshot(ctx context.Context) (interfaces.Settings, error) {
	return s.load(ctx)
}

// Update runs fn on the current settings and persists the result if fn succeeds
// and the result validates. Nothing is written otherwise.
func (s *Store) Update(ctx context.Context, fn func(*interfaces.Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return err
	}

	if err := fn(&current); err != nil {
		return err
	}

	if err := Validate(&current); err != nil {
		return err
	}

	return s.save(ctx, &current)
}

// Seed persists seed if no settings document exists yet. It reports whether it wrote.
func (s *Store) Seed(ctx context.Context, seed interfaces.Settings) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.backend.Fetch(ctx, Key)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, interfaces.ErrContentNotFound) {
		return false, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := Validate(&seed); err != nil {
		return false, err
	}
	if err := s.save(ctx, &seed); err != nil {
		return false, err
	}

	s.log.Info("Seeded settings",
		slog.Bool("enabled", seed.Enabled),
		slog.Duration("healthy_interval", seed.Schedule.HealthyInterval),
		slog.Duration("revoked_interval", seed.Schedule.RevokedInterval))
	return true, nil
}

func (s *Store) load(ctx context.Context) (interfaces.Settings, error) {
	data, err := s.backend.Fetch(ctx, Key)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return Default(), nil
	}
	if err != nil {
		return interfaces.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	current := Default()
	if err := json.Unmarshal(data, &current); err != nil {
		return interfaces.Settings{}, fmt.Errorf("failed to decode settings from %s: %w", s.backend.Name(), err)
	}
	return current, nil
}

func (s *Store) save(ctx context.Context, current *interfaces.Settings) error {
	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.backend.Store(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
