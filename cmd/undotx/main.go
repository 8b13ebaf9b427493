package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tapecell/undotx/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Code != cli.ExitFailure {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
}
