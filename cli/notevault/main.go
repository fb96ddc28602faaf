package main

import (
	"os"

	notevaultcmder "github.com/quietvale/notevault/cmd/notevault"
)

func main() {
	cmd := notevaultcmder.NewNotevaultCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
