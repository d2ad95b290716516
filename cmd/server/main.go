package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/victornm/etrivia/internal/config"
	"github.com/victornm/etrivia/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

func loadConfig() (server.Config, error) {
	var c server.Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Redis.Ranking.Prefix = "etrivia"
	c.Redis.Pubsub.Prefix = "etrivia"
	c.Auth.TokenTTL = 24 * time.Hour

	err := config.LoadFromEnv(&c)
	return c, err
}
