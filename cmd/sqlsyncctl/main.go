package main

import (
	"os"

	"github.com/sqlsync/sqlsync/cmd/sqlsyncctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
