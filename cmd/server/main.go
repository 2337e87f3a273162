package main

import (
	"context"
	"log"

	"github.com/selfvault/syncengine/internal/server"
	"github.com/selfvault/syncengine/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Printf("%v", err)
	}
}
