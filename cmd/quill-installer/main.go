// quill-installer is the provisioning child process. It runs inside a
// staging tree prepared by the bootstrapper, builds the virtual environment
// and, on first run, the model cache, reporting progress as line-oriented
// protocol events on stdout for the parent to parse.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
