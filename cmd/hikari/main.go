package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hikaribot/hikari/internal/config"
	"github.com/hikaribot/hikari/internal/handlers"
	"github.com/hikaribot/hikari/internal/repository"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)
	bot := handlers.NewBot(cfg, repo)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(ctx) })
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
