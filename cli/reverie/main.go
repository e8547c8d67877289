package main

import (
	"os"

	reveriecmder "github.com/papercomputeco/reverie/cmd/reverie"
)

func main() {
	cmd := reveriecmder.NewReverieCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
