package main

import (
	"os"
	_ "time/tzdata"

	"analytics-enginev1/cmd/tacli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
