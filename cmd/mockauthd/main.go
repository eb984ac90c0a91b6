package main

import (
	"log"

	"github.com/aussiebroadwan/authkit/internal/mockauth"
)

func main() {
	cfg := mockauth.LoadServerConfig()

	application, err := mockauth.NewApplication(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
