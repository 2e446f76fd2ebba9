package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/victornm/discernment/internal/config"
	"github.com/victornm/discernment/internal/server"
	"github.com/victornm/discernment/internal/telemetry"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	flush, err := telemetry.SetupLogger(c.Log.Mode)
	if err != nil {
		log.Fatalf("Setup logger failed: %v", err)
	}
	defer flush()

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

// loadConfig reads CONFIG_PATH when set; defaults and environment apply either way.
// Without configured bots, BOT_TOKEN and BOT_TOKEN2 each start one.
func loadConfig() (server.Config, error) {
	c := server.DefaultConfig()

	err := config.Load(os.Getenv("CONFIG_PATH"), &c,
		config.WithEnvAlias("quiz.dailybonusxp", "DAILY_BONUS_XP"),
		config.WithEnvAlias("quiz.timezone", "TIMEZONE"),
		config.WithEnvAlias("store.dsn", "DATABASE_URL"),
	)
	if err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}
	if len(c.Bots) == 0 {
		c.Bots = server.EnvBots(os.Getenv)
	}

	return c, nil
}
