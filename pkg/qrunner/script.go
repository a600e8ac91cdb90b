package qrunner

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// WrapTask embeds a task in a script that restores the working directory
// and exported variables left by the previous successful task. An EXIT trap
// saves them again whenever the task ends with status zero, including an
// explicit exit. The task text is inserted verbatim on its own line, followed
// by a blank line so a trailing backslash cannot join it to anything else.
//
// Example:
//
//	Input:  stateDir="/tmp/qci-1", task="cd orkestra"
//	Output: restore prologue, save trap, "cd orkestra", blank line
func WrapTask(stateDir, task string) string {
	state := shellescape.Quote(stateDir)

	var b strings.Builder
	b.WriteString("__qci_state=" + state + "\n")
	b.WriteString(`mkdir -p "$__qci_state"` + "\n")
	b.WriteString(`if [ -f "$__qci_state/env" ]; then . "$__qci_state/env" 2>/dev/null; fi` + "\n")
	b.WriteString(`if [ -f "$__qci_state/cwd" ]; then cd "$(cat "$__qci_state/cwd")" || exit 1; fi` + "\n")
	b.WriteString(saveTrap + "\n")
	b.WriteString(task)
	b.WriteString("\n\n")
	return b.String()
}

const saveTrap = `trap '__qci_rc=$?; if [ "$__qci_rc" -eq 0 ]; then pwd > "$__qci_state/cwd"; export -p > "$__qci_state/env"; fi; exit "$__qci_rc"' EXIT`
