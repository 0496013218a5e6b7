package confirm

import (
	"context"
	"testing"
)

func TestTerminalRejectsNonTerminalStdin(t *testing.T) {
	// Test runs have stdin piped/redirected, never a real tty, so this
	// exercises the one path that doesn't require a keystroke: the
	// up-front term.IsTerminal guard.
	_, _, err := Terminal(context.Background(), "git_commit", map[string]any{"message": "wip"}, "operator sign-off required")
	if err == nil {
		t.Fatal("expected an error when stdin is not a terminal")
	}
}
