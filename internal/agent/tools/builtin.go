package tools

// RegisterBuiltins registers the builtin skill set. The scheduler
// skill is wired separately in serve mode, where a turn sink exists.
func RegisterBuiltins(r *Registry) {
	r.RegisterSkill(FilesSkill())
	r.RegisterSkill(ShellSkill())
	r.RegisterSkill(WebSkill())
	r.RegisterSkill(SystemSkill())
}
