package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
)

var jwtSecret []byte // loaded from config (fallback to dev default)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	jwtSecret = []byte(cfg.JWT.Secret)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			log.Printf("sentry init failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Support a lightweight migrate command: `./uangku migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB(cfg)
		fmt.Println("migration and seeding completed")
		return
	}

	initDB(cfg)

	r := gin.Default()

	setupRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	if err := r.Run(addr); err != nil {
		log.Fatalf("run server: %v", err)
	}
}
