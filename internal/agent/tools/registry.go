package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openclaw/claw/internal/agent/ai"
	"github.com/openclaw/claw/internal/logging"
)

// ExecResult is what a tool execution hands back to the agent loop.
// Failures travel inside Result as text; Execute never returns an
// error, since the model reads results and self-corrects. IsError
// marks a failed call (retry candidate) so the loop does not have to
// parse the result text.
type ExecResult struct {
	Result    string `json:"result"`
	Dangerous bool   `json:"dangerous"`
	IsError   bool   `json:"isError,omitempty"`
}

// Registry holds skills and serves tool lookup and execution. An
// RWMutex guards state because the HTTP surface toggles skills while
// agent turns read concurrently.
type Registry struct {
	mu       sync.RWMutex
	skills   map[string]*Skill
	order    []string
	settings *SettingsStore
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*Skill),
	}
}

// SetSettings attaches the persistence store. Persisted disabled
// states apply immediately; every later toggle writes through.
func (r *Registry) SetSettings(store *SettingsStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = store
	if store == nil {
		return
	}
	for _, id := range store.GetDisabledSkills() {
		if skill, ok := r.skills[id]; ok {
			skill.Enabled = false
		}
	}
}

// RegisterSkill upserts a skill, keeping first-registration order so
// tool listings stay stable across a session.
func (r *Registry) RegisterSkill(skill *Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(skill)
}

func (r *Registry) registerLocked(skill *Skill) {
	if _, exists := r.skills[skill.ID]; !exists {
		r.order = append(r.order, skill.ID)
	}
	if r.settings != nil && !r.settings.IsEnabled(skill.ID) {
		skill.Enabled = false
	}
	r.skills[skill.ID] = skill
}

// ListSkills returns all skills in registration order.
func (r *Registry) ListSkills() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skills := make([]*Skill, 0, len(r.order))
	for _, id := range r.order {
		if skill, ok := r.skills[id]; ok {
			skills = append(skills, skill)
		}
	}
	return skills
}

// GetSkill returns one skill by ID.
func (r *Registry) GetSkill(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[id]
	return skill, ok
}

// ListEnabled flattens the tools of enabled skills, in skill order.
// Tools of disabled skills do not appear at all.
func (r *Registry) ListEnabled() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []Tool
	for _, id := range r.order {
		skill := r.skills[id]
		if skill == nil || !skill.Enabled {
			continue
		}
		tools = append(tools, skill.Tools...)
	}
	return tools
}

// Find looks up an enabled tool by name. A disabled skill's tools are
// invisible even when named correctly.
func (r *Registry) Find(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		skill := r.skills[id]
		if skill == nil || !skill.Enabled {
			continue
		}
		for i := range skill.Tools {
			if skill.Tools[i].Name == name {
				return &skill.Tools[i], true
			}
		}
	}
	return nil, false
}

// Execute runs a tool by name. An unknown name yields an "unknown
// tool" result so the model can self-correct; argument problems, tool
// errors and panics all come back as failure-prefixed result text.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (res ExecResult) {
	tool, ok := r.Find(name)
	if !ok {
		logging.Warnf("[tools] Unknown tool: %s", name)
		return ExecResult{Result: fmt.Sprintf(
			"unknown tool %q. It does not exist - do not call it again. Your available tools are: %s",
			name, strings.Join(r.enabledNames(), ", ")), IsError: true}
	}

	res.Dangerous = tool.Dangerous
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("[tools] Tool %s panicked: %v", name, rec)
			res.Result = fmt.Sprintf("Tool %q failed: internal panic: %v", name, rec)
			res.IsError = true
		}
	}()

	if err := tool.ValidateArgs(args); err != nil {
		return ExecResult{
			Result:    fmt.Sprintf("Tool %q failed: %v", name, err),
			Dangerous: tool.Dangerous,
			IsError:   true,
		}
	}

	logging.Debugf("[tools] Executing %s", name)
	output, err := tool.Run(ctx, args)
	if err != nil {
		logging.Warnf("[tools] Tool %s failed: %v", name, err)
		return ExecResult{
			Result:    fmt.Sprintf("Tool %q failed: %v", name, err),
			Dangerous: tool.Dangerous,
			IsError:   true,
		}
	}
	if output == "" {
		output = "(no output)"
	}
	return ExecResult{Result: output, Dangerous: tool.Dangerous}
}

// Schemas derives provider-agnostic definitions for every enabled tool.
func (r *Registry) Schemas() []ai.ToolDefinition {
	enabled := r.ListEnabled()
	defs := make([]ai.ToolDefinition, 0, len(enabled))
	for i := range enabled {
		defs = append(defs, enabled[i].Definition())
	}
	return defs
}

// SetEnabled toggles a skill and persists the change through the
// settings store. Returns false for an unknown ID.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	skill, ok := r.skills[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	skill.Enabled = enabled
	store := r.settings
	r.mu.Unlock()

	if store != nil {
		if err := store.SetEnabled(id, enabled); err != nil {
			logging.Errorf("[tools] Persist toggle for %s: %v", id, err)
		}
	}
	logging.Infof("[tools] Skill %s enabled=%v", id, enabled)
	return true
}

// AddCustom upserts a custom skill by ID. Whatever the submitted
// document claims, a custom skill is never builtin.
func (r *Registry) AddCustom(skill *Skill) {
	skill.Builtin = false
	r.mu.Lock()
	r.registerLocked(skill)
	r.mu.Unlock()
	logging.Infof("[tools] Registered custom skill %s (%d tools)", skill.ID, len(skill.Tools))
}

// RemoveCustom deletes a custom skill. Builtins and unknown IDs are a
// no-op returning false.
func (r *Registry) RemoveCustom(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	skill, ok := r.skills[id]
	if !ok || skill.Builtin {
		return false
	}
	delete(r.skills, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) enabledNames() []string {
	enabled := r.ListEnabled()
	names := make([]string, 0, len(enabled))
	for i := range enabled {
		names = append(names, enabled[i].Name)
	}
	return names
}
