// quill is the bootstrap and update front door for the Quill transcript
// processor: it keeps the managed runtime installed, verified and current,
// then hands off to the application itself.
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
