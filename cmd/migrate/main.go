// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction=up
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/config"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/migrate"
)

func main() {
	direction := flag.String("direction", migrate.DirectionUp, "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.URL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.URL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
