package prompt

import "fmt"

// Mode labels the kind of transformation a job performs.
type Mode string

// Modes
const (
	ModeEdit     Mode = "edit"
	ModeFix      Mode = "fix"
	ModeRefactor Mode = "refactor"
	ModeDoc      Mode = "doc"
	ModeTest     Mode = "test"
)

var modeTasks = map[Mode]string{
	ModeEdit:     "Rewrite the code below according to the instructions.",
	ModeFix:      "Fix the bugs in the code below. Use the last run output to locate the failure.",
	ModeRefactor: "Refactor the code below for clarity without changing its behaviour.",
	ModeDoc:      "Add or update documentation comments for the code below. Do not change the code itself.",
	ModeTest:     "Improve the test code below. Keep existing cases passing.",
}

// ParseMode validates a mode label. The empty label means ModeEdit.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeEdit, nil
	}
	m := Mode(s)
	if _, ok := modeTasks[m]; !ok {
		return "", fmt.Errorf("prompt: unknown mode %q", s)
	}
	return m, nil
}

// Task returns the default task instruction for m.
func (m Mode) Task() string {
	if t, ok := modeTasks[m]; ok {
		return t
	}
	return modeTasks[ModeEdit]
}

// WantsRunOutput reports whether the mode is error-driven and should see the
// last build/test run.
func (m Mode) WantsRunOutput() bool {
	return m == ModeFix
}
