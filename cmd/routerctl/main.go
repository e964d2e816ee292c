// Command routerctl is an offline companion to the hookrouter server. It
// checks rule files, previews the notifications a payload would produce and
// produces credentials for the server configuration.
package main

import (
	"os"

	"hookrouter/cmd/routerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
