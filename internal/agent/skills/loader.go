package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/claw/internal/logging"
)

// SkillFileName is the expected filename for skill definitions
const SkillFileName = "SKILL.md"

// Loader loads skill documents and caches them per source tier. The
// cache loads once per source and stays until explicitly invalidated,
// either by the watcher or by whoever writes a new user skill.
type Loader struct {
	mu       sync.Mutex
	cache    map[Source][]*AgentSkill
	loaded   map[Source]bool
	dirs     map[Source]string
	builtins []*AgentSkill
	disabled map[string]bool

	watcher  *fsnotify.Watcher
	onChange func([]*AgentSkill)
	cancel   context.CancelFunc
}

// NewLoader creates a loader over the user and project skill
// directories. Either may be empty to skip that tier.
func NewLoader(userDir, projectDir string) *Loader {
	return &Loader{
		cache:  make(map[Source][]*AgentSkill),
		loaded: make(map[Source]bool),
		dirs: map[Source]string{
			SourceUser:    userDir,
			SourceProject: projectDir,
		},
		disabled: make(map[string]bool),
	}
}

// RegisterBuiltin installs skills shipped with the binary. They behave
// like a pre-populated builtin tier.
func (l *Loader) RegisterBuiltin(skills ...*AgentSkill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builtins = append(l.builtins, skills...)
	l.loaded[SourceBuiltin] = false
}

// Load returns the skills of one source, loading from disk on first
// use or after invalidation.
func (l *Loader) Load(source Source) []*AgentSkill {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(source)
}

func (l *Loader) loadLocked(source Source) []*AgentSkill {
	if l.loaded[source] {
		return l.cache[source]
	}

	var skills []*AgentSkill
	if source == SourceBuiltin {
		skills = append(skills, l.builtins...)
	} else if dir := l.dirs[source]; dir != "" {
		skills = loadDir(dir, source)
	}
	for _, skill := range skills {
		skill.Enabled = !l.disabled[skill.Name]
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	l.cache[source] = skills
	l.loaded[source] = true
	logging.Debugf("[skills] Loaded %d %s skills", len(skills), source)
	return skills
}

// loadDir walks a directory for SKILL.md files. Documents that do not
// parse into a skill are skipped, not fatal.
func loadDir(dir string, source Source) []*AgentSkill {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	var skills []*AgentSkill
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Base(path), SkillFileName) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Errorf("[skills] Could not read %s: %v", path, err)
			return nil
		}
		skill := ParseSkillMD(data, path, source)
		if skill == nil {
			logging.Debugf("[skills] Skipping %s: not a skill document", path)
			return nil
		}
		skills = append(skills, skill)
		return nil
	})
	if err != nil {
		logging.Errorf("[skills] Walk %s: %v", dir, err)
	}
	return skills
}

// Invalidate drops one source's cache so the next Load re-reads disk.
// Call it after writing a new user skill.
func (l *Loader) Invalidate(source Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded[source] = false
	delete(l.cache, source)
}

// List returns all skills across sources, deduplicated by name.
// Project skills shadow user skills, user skills shadow builtins.
// Sorted by name for stable prompt order.
func (l *Loader) List() []*AgentSkill {
	l.mu.Lock()
	defer l.mu.Unlock()

	byName := make(map[string]*AgentSkill)
	for _, source := range []Source{SourceBuiltin, SourceUser, SourceProject} {
		for _, skill := range l.loadLocked(source) {
			byName[skill.Name] = skill
		}
	}

	skills := make([]*AgentSkill, 0, len(byName))
	for _, skill := range byName {
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// ListEnabled returns the enabled subset of List in the same order.
func (l *Loader) ListEnabled() []*AgentSkill {
	all := l.List()
	enabled := make([]*AgentSkill, 0, len(all))
	for _, skill := range all {
		if skill.Enabled {
			enabled = append(enabled, skill)
		}
	}
	return enabled
}

// Get returns a skill by name, honoring the same shadowing as List.
func (l *Loader) Get(name string) (*AgentSkill, bool) {
	for _, skill := range l.List() {
		if skill.Name == name {
			return skill, true
		}
	}
	return nil, false
}

// Count returns the number of distinct skill names.
func (l *Loader) Count() int {
	return len(l.List())
}

// SetEnabled flips one skill's enabled state. The disabled set
// persists across cache invalidation so reloads keep the state.
func (l *Loader) SetEnabled(name string, enabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if enabled {
		delete(l.disabled, name)
	} else {
		l.disabled[name] = true
	}

	found := false
	for _, skills := range l.cache {
		for _, skill := range skills {
			if skill.Name == name {
				skill.Enabled = enabled
				found = true
			}
		}
	}
	if !found {
		for _, skill := range l.builtins {
			if skill.Name == name {
				found = true
				break
			}
		}
	}
	return found
}

// SetDisabledSkills replaces the disabled set, typically from the
// settings store at startup.
func (l *Loader) SetDisabledSkills(disabled []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.disabled = make(map[string]bool, len(disabled))
	for _, name := range disabled {
		l.disabled[name] = true
	}
	for _, skills := range l.cache {
		for _, skill := range skills {
			skill.Enabled = !l.disabled[skill.Name]
		}
	}
}

// OnChange sets a callback invoked after the watcher reloads skills.
func (l *Loader) OnChange(fn func([]*AgentSkill)) {
	l.onChange = fn
}

// Watch starts watching the user skills directory. Any SKILL.md event
// invalidates the user cache; new subdirectories join the watch so a
// freshly created skill folder is picked up without a restart.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go l.watchLoop(ctx)

	dir := l.dirs[SourceUser]
	if dir == "" {
		return nil
	}
	if err := l.watchRecursive(dir); err != nil {
		// Directory might not exist yet, that's okay
		logging.Errorf("[skills] Could not watch %s: %v", dir, err)
	}
	return nil
}

// watchRecursive adds a directory and all subdirectories to the watcher
func (l *Loader) watchRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := l.watcher.Add(path); err != nil {
				logging.Debugf("[skills] Could not watch %s: %v", path, err)
			}
		}
		return nil
	})
}

// watchLoop handles file system events
func (l *Loader) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Errorf("[skills] Watch error: %v", err)
		}
	}
}

// handleEvent processes a file system event
func (l *Loader) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := l.watcher.Add(event.Name); err != nil {
				logging.Debugf("[skills] Could not watch %s: %v", event.Name, err)
			}
			l.Invalidate(SourceUser)
			l.notify()
			return
		}
	}

	if !strings.EqualFold(filepath.Base(event.Name), SkillFileName) {
		return
	}

	logging.Debugf("[skills] File event: %s %s", event.Op, event.Name)
	l.Invalidate(SourceUser)
	l.notify()
}

func (l *Loader) notify() {
	if l.onChange != nil {
		l.onChange(l.List())
	}
}

// Stop stops watching for changes
func (l *Loader) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.watcher != nil {
		l.watcher.Close()
	}
}
