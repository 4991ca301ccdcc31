// Command sqlsyncd runs the sqlsync coordinator: the authoritative
// document service that accepts client replication connections and
// applies their mutations in commit order.
package main

import (
	"os"

	"github.com/sqlsync/sqlsync/cmd/sqlsyncd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
