// Package confirm implements the Operator Confirm terminal prompt: the
// interactive prompt a process uses to get a human's sign-off on a
// CONFIRM-tier action at its own terminal. The Agent uses it for every
// CONFIRM-tier action that arrives unconfirmed over its Gateway connection.
package confirm

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

// Timeout is how long Terminal waits for a keystroke before treating
// silence as a denial, matching the Agent's confirm-handling budget.
const Timeout = 300 * time.Second

type result struct {
	approved bool
	err      error
}

// Terminal prompts at the process's controlling terminal and blocks for a
// single y/n keystroke, read in raw mode so the key isn't echoed back
// (stdin stays usable as a plain gate rather than a line editor). It
// matches the security.ApprovalFunc signature and is the approval function
// cmd/agent passes to the security kernel for every action it executes.
func Terminal(ctx context.Context, action string, params map[string]any, reason string) (approved bool, feedback string, err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return false, "", fmt.Errorf("confirm: stdin is not a terminal, cannot prompt for %s", action)
	}

	fmt.Fprintf(os.Stderr, "\nCONFIRM required: %s %v\n  reason: %s\n  approve? [y/N] ", action, params, reason)

	resultCh := make(chan result, 1)
	go func() {
		old, rawErr := term.MakeRaw(fd)
		if rawErr != nil {
			resultCh <- result{false, rawErr}
			return
		}
		defer term.Restore(fd, old)

		buf := make([]byte, 1)
		if _, readErr := os.Stdin.Read(buf); readErr != nil {
			resultCh <- result{false, readErr}
			return
		}
		resultCh <- result{buf[0] == 'y' || buf[0] == 'Y', nil}
	}()

	select {
	case res := <-resultCh:
		fmt.Fprintln(os.Stderr)
		if res.err != nil {
			return false, "", res.err
		}
		if res.approved {
			return true, "", nil
		}
		return false, "denied at terminal prompt", nil
	case <-ctx.Done():
		return false, "", ctx.Err()
	case <-time.After(Timeout):
		return false, "", fmt.Errorf("confirm: no response within %s", Timeout)
	}
}
