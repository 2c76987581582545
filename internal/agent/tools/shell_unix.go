//go:build darwin || linux

package tools

import "os"

// ShellCommand picks the shell used to run tool commands. Absolute
// paths are tried first so a crafted PATH cannot substitute the binary.
func ShellCommand() (shell string, args []string) {
	for _, path := range []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"} {
		if _, err := os.Stat(path); err == nil {
			return path, []string{"-c"}
		}
	}
	return "sh", []string{"-c"}
}
