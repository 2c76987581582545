package tools

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"
)

// SystemSkill exposes read-only facts about the host: time and
// machine info. Nothing here mutates state, so nothing is dangerous.
func SystemSkill() *Skill {
	return &Skill{
		ID:          "system",
		Name:        "System",
		Description: "Clock and host information",
		Icon:        "🖥️",
		Category:    "system",
		Builtin:     true,
		Enabled:     true,
		Tools: []Tool{
			{
				Name:        "current_time",
				Description: "Current date and time, optionally in a specific IANA timezone.",
				Params: []Param{
					{Name: "timezone", Type: "string", Description: "IANA timezone like America/New_York (default local)"},
				},
				Run: runCurrentTime,
			},
			{
				Name:        "system_info",
				Description: "Operating system, architecture, hostname and working directory.",
				Run:         runSystemInfo,
			},
		},
	}
}

func runCurrentTime(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now()
	if tz := StringArg(args, "timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		now = now.In(loc)
	}
	return now.Format("Monday, January 2, 2006 at 3:04:05 PM MST"), nil
}

func runSystemInfo(ctx context.Context, args map[string]any) (string, error) {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()
	return fmt.Sprintf("OS: %s\nArch: %s\nHostname: %s\nWorking directory: %s",
		runtime.GOOS, runtime.GOARCH, hostname, cwd), nil
}
