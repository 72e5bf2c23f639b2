package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/migrations"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

const usage = "usage: migrate [up|down|status]"

func main() {
	_ = godotenv.Load()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		err = migrations.Up(ctx, db, sugar)
	case "down":
		err = migrations.Down(ctx, db, sugar)
	case "status":
		err = migrations.Status(ctx, db, sugar)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		sugar.Fatalf("migrate %s: %v", command, err)
	}
	sugar.Infow("migrate finished", "command", command)
}
