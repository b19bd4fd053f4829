package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/rustyeddy/pilot/cmd/pilot/cmd"
)

func main() {
	_ = godotenv.Load() // best-effort

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
