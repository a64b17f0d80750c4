// Command faultline runs network protocol fuzzing campaigns against local
// targets and records the traffic as pcap evidence.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

var errThresholdFailed = errors.New("threshold check failed")

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and maps the outcome to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errThresholdFailed):
		fmt.Fprintln(stderr, "\nThreshold check failed!")
		return ExitThresholdFailed
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}
}
