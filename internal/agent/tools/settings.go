package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// settingsFileName sits inside the data dir next to the database.
const settingsFileName = "skill-settings.json"

// Settings holds the persisted enablement state. Absence from the
// disabled list means enabled, so a fresh install enables everything.
type Settings struct {
	DisabledSkills []string `json:"disabledSkills"`
}

// SettingsStore persists skill enablement. It loads once at
// construction and rewrites the file on every toggle.
type SettingsStore struct {
	filePath string
	mu       sync.RWMutex
	settings Settings
	onChange func(id string, enabled bool)
}

// NewSettingsStore creates a store under dataDir, loading any existing
// state.
func NewSettingsStore(dataDir string) *SettingsStore {
	store := &SettingsStore{
		filePath: filepath.Join(dataDir, settingsFileName),
		settings: Settings{DisabledSkills: []string{}},
	}
	store.load()
	return store
}

// OnChange registers a callback fired after a skill's enabled state
// changes, so the serve surface can push updates.
func (s *SettingsStore) OnChange(fn func(id string, enabled bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// GetDisabledSkills returns the disabled skill IDs.
func (s *SettingsStore) GetDisabledSkills() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.settings.DisabledSkills))
	copy(out, s.settings.DisabledSkills)
	return out
}

// IsEnabled checks if a skill is enabled (not in the disabled list).
func (s *SettingsStore) IsEnabled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, disabled := range s.settings.DisabledSkills {
		if disabled == id {
			return false
		}
	}
	return true
}

// Toggle flips a skill's state and returns the new state.
func (s *SettingsStore) Toggle(id string) (enabled bool, err error) {
	s.mu.Lock()

	for i, disabled := range s.settings.DisabledSkills {
		if disabled == id {
			s.settings.DisabledSkills = append(
				s.settings.DisabledSkills[:i],
				s.settings.DisabledSkills[i+1:]...,
			)
			err = s.save()
			cb := s.onChange
			s.mu.Unlock()
			if err == nil && cb != nil {
				cb(id, true)
			}
			return true, err
		}
	}

	s.settings.DisabledSkills = append(s.settings.DisabledSkills, id)
	err = s.save()
	cb := s.onChange
	s.mu.Unlock()
	if err == nil && cb != nil {
		cb(id, false)
	}
	return false, err
}

// SetEnabled writes one skill's state, saving only when it changed.
func (s *SettingsStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()

	idx := -1
	for i, disabled := range s.settings.DisabledSkills {
		if disabled == id {
			idx = i
			break
		}
	}

	changed := false
	var err error
	if enabled && idx >= 0 {
		s.settings.DisabledSkills = append(
			s.settings.DisabledSkills[:idx],
			s.settings.DisabledSkills[idx+1:]...,
		)
		err = s.save()
		changed = true
	} else if !enabled && idx < 0 {
		s.settings.DisabledSkills = append(s.settings.DisabledSkills, id)
		err = s.save()
		changed = true
	}
	cb := s.onChange
	s.mu.Unlock()

	if changed && err == nil && cb != nil {
		cb(id, enabled)
	}
	return err
}

func (s *SettingsStore) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		// File doesn't exist yet, use defaults
		return
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return
	}
	if settings.DisabledSkills == nil {
		settings.DisabledSkills = []string{}
	}
	s.settings = settings
}

func (s *SettingsStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}
