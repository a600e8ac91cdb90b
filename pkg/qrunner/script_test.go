package qrunner

import (
	"strings"
	"testing"
)

func TestWrapTask_EmbedsTaskVerbatim(t *testing.T) {
	task := `git clone https://github.com/Azure/orkestra && echo "it's done"`
	script := WrapTask("/tmp/qci state", task)

	if !strings.Contains(script, "\n"+task+"\n") {
		t.Errorf("task not embedded on its own line:\n%s", script)
	}
	if !strings.HasPrefix(script, "__qci_state='/tmp/qci state'\n") {
		t.Errorf("state dir not quoted:\n%s", script)
	}
	if !strings.HasSuffix(script, "\n"+task+"\n\n") {
		t.Errorf("task must be the last command, followed by a blank line:\n%s", script)
	}
	if !strings.Contains(script, "\n"+saveTrap+"\n"+task) {
		t.Errorf("state must be saved by an EXIT trap installed before the task:\n%s", script)
	}
}
