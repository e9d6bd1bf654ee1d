// Command mypictures indexes a local photo library into Postgres and
// searches it with natural-language queries.
//
// Usage:
//
//	mypictures [flags] <command> [args]
//
// Commands:
//
//	setup    create the catalog schema
//	migrate  resize the embedding column after a model change
//	index    scan the configured folders and update the catalog
//	search   run a text query from the terminal
//	serve    start the web UI and HTTP API
package main

import (
	"fmt"
	"os"

	"mypictures/cmd/mypictures/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
