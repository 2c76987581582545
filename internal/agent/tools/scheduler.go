package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/openclaw/claw/internal/logging"
)

// ScheduleEntry is one scheduled prompt. The table lives in memory
// only; schedules do not survive a restart.
type ScheduleEntry struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	Prompt     string    `json:"prompt"`
	NextRun    time.Time `json:"next_run,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	entryID cronlib.EntryID
}

// Scheduler runs cron-scheduled prompts. When an entry fires, its
// prompt is handed to the fire callback, which starts a fresh agent
// turn in serve mode.
type Scheduler struct {
	mu   sync.Mutex
	cron *cronlib.Cron
	jobs map[string]*ScheduleEntry
	fire func(prompt string)
}

// NewScheduler creates a started scheduler. Expressions use six
// fields with a leading seconds column.
func NewScheduler(fire func(prompt string)) *Scheduler {
	s := &Scheduler{
		cron: cronlib.New(cronlib.WithSeconds()),
		jobs: make(map[string]*ScheduleEntry),
		fire: fire,
	}
	s.cron.Start()
	return s
}

// Add schedules a prompt under a generated ID.
func (s *Scheduler) Add(expression, prompt string) (*ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()[:8]
	entry := &ScheduleEntry{
		ID:         id,
		Expression: expression,
		Prompt:     prompt,
		CreatedAt:  time.Now(),
	}

	entryID, err := s.cron.AddFunc(expression, func() {
		logging.Infof("[scheduler] firing %s: %s", id, truncatePrompt(prompt))
		if s.fire != nil {
			s.fire(prompt)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	entry.entryID = entryID
	entry.NextRun = s.cron.Entry(entryID).Next
	s.jobs[id] = entry

	logging.Infof("[scheduler] added %s (%s)", id, expression)
	return entry, nil
}

// List returns entries sorted by creation time, next-run refreshed.
func (s *Scheduler) List() []ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		copy := *e
		copy.NextRun = s.cron.Entry(e.entryID).Next
		out = append(out, copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove unschedules an entry, reporting whether it existed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(entry.entryID)
	delete(s.jobs, id)
	logging.Infof("[scheduler] removed %s", id)
	return true
}

// Stop halts the cron runner. Running jobs finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Skill exposes the scheduler to the model.
func (s *Scheduler) Skill() *Skill {
	return &Skill{
		ID:          "scheduler",
		Name:        "Scheduler",
		Description: "Schedule prompts to run on a cron expression",
		Icon:        "⏰",
		Category:    "automation",
		Builtin:     true,
		Enabled:     true,
		Tools: []Tool{
			{
				Name:        "schedule_add",
				Description: "Schedule a prompt on a 6-field cron expression (seconds first, e.g. \"0 0 9 * * *\" for 9am daily).",
				Params: []Param{
					{Name: "expression", Type: "string", Description: "Cron expression with seconds field", Required: true},
					{Name: "prompt", Type: "string", Description: "Prompt to run when the schedule fires", Required: true},
				},
				Run: func(ctx context.Context, args map[string]any) (string, error) {
					entry, err := s.Add(StringArg(args, "expression"), StringArg(args, "prompt"))
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("Scheduled %s: %q next run %s",
						entry.ID, entry.Expression, entry.NextRun.Format(time.RFC1123)), nil
				},
			},
			{
				Name:        "schedule_list",
				Description: "List active schedules with their next run time.",
				Run: func(ctx context.Context, args map[string]any) (string, error) {
					entries := s.List()
					if len(entries) == 0 {
						return "No schedules", nil
					}
					var out strings.Builder
					for _, e := range entries {
						fmt.Fprintf(&out, "%s  %q  next %s  %s\n",
							e.ID, e.Expression, e.NextRun.Format(time.RFC1123), truncatePrompt(e.Prompt))
					}
					return strings.TrimRight(out.String(), "\n"), nil
				},
			},
			{
				Name:        "schedule_remove",
				Description: "Remove a schedule by its ID.",
				Params: []Param{
					{Name: "id", Type: "string", Description: "Schedule ID from schedule_list", Required: true},
				},
				Run: func(ctx context.Context, args map[string]any) (string, error) {
					id := StringArg(args, "id")
					if !s.Remove(id) {
						return "", fmt.Errorf("schedule not found: %s", id)
					}
					return fmt.Sprintf("Removed schedule %s", id), nil
				},
			},
		},
	}
}

func truncatePrompt(prompt string) string {
	if len(prompt) <= 60 {
		return prompt
	}
	return prompt[:60] + "..."
}
