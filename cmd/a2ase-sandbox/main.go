// a2ase-sandbox runs the in-memory A2A Settlement Exchange locally so agents
// can settle against a real HTTP surface without touching a live network.
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/a2a-settlement/a2ase/internal/sandbox"
	"github.com/a2a-settlement/a2ase/pkg/config"
	"github.com/a2a-settlement/a2ase/pkg/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("a2ase-sandbox: %v", err)
	}

	shutdown, err := telemetry.Setup(ctx, "a2ase-sandbox", cfg)
	if err != nil {
		log.Fatalf("a2ase-sandbox: telemetry: %v", err)
	}
	defer func() { _ = shutdown(ctx) }()

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8402"
	}

	handler := sandbox.Router(sandbox.New(), cfg.APIKey)
	log.Printf("a2ase-sandbox listening on :%s network=%s", port, cfg.Network)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("a2ase-sandbox: %v", err)
	}
}
