// Package main provides rbssh, the SSH client SCM tools run through
// CVS_RSH, BZR_SSH and similar variables.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/scmkit/pkg/rbssh"
	"github.com/Sumatoshi-tech/scmkit/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	logger, closeLog, err := rbssh.OpenDebugLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rbssh: %v\n", err)
		os.Exit(rbssh.ExitFailure)
	}

	status := run(context.Background(), osProcess(logger), os.Args[1:])

	if closeErr := closeLog(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "rbssh: %v\n", closeErr)
	}

	os.Exit(status)
}
