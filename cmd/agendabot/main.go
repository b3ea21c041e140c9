package main

import (
	"log"

	corecmd "github.com/m3rciful/agendabot/core/cmd"
)

func main() {
	if err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
	}); err != nil {
		log.Fatalf("agendabot: %v", err)
	}
}
