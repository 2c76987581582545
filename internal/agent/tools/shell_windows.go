//go:build windows

package tools

// ShellCommand picks the shell used to run tool commands.
func ShellCommand() (shell string, args []string) {
	return "cmd.exe", []string{"/C"}
}
