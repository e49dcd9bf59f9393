package main

import (
	"os"

	"github.com/wayneos/wayned/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
