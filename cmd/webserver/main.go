package main

import (
	"log"

	"github.com/azhanglai/LaiWebServer/app"
	"github.com/azhanglai/LaiWebServer/config"
)

func main() {
	cfg := config.New()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Server init failed: %v", err)
	}
	if err := application.Run(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
