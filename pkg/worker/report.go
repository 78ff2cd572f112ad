package worker

import (
	"fmt"
	"io"
)

// Exit codes of the worker subcommand
const (
	ExitDone   = 0
	ExitFailed = 1
)

// Report writes the worker's textual result: the crop count on stdout (0
// on failure) and a diagnostic on stderr when the run failed. It returns
// the process exit code.
func Report(stdout, stderr io.Writer, res Result, err error) int {
	if err == nil && !res.State.Terminal() {
		err = fmt.Errorf("worker stopped in non-terminal state %s", res.State)
	}
	if err != nil || res.State != StateDone {
		fmt.Fprintln(stdout, 0)
		if err == nil {
			err = fmt.Errorf("worker ended in state %s", res.State)
		}
		fmt.Fprintf(stderr, "worker failed: %v\n", err)
		return ExitFailed
	}
	fmt.Fprintln(stdout, res.Count)
	return ExitDone
}
