// Command contactsd manages an on-device contacts database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/contactsd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
