package main

import (
	"os"

	"github.com/FranLegon/drive-upload/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
