package main

import (
	"log"
	"os"

	"chatdeck/internal/api"
	"chatdeck/internal/auth"
	"chatdeck/internal/config"
	"chatdeck/internal/llm"
	"chatdeck/internal/redis"
	"chatdeck/internal/service/chat"
	"chatdeck/internal/service/prompt"
	"chatdeck/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CHATDECK_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("CHATDECK_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: sessions, messages, prompts
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// The cache is optional: when redis is not reachable the service runs
	// with direct reads.
	cache, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running without cache: %v", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	authCfg, err := auth.LoadConfig(cfg.BasicConfig.AuthConfigPath)
	if err != nil {
		log.Fatalf("load auth config: %v", err)
	}
	authService := auth.NewService(authCfg)

	chatService := chat.NewService(db)
	promptService := prompt.NewService(db, cache)
	inference := llm.NewClient(cfg.Ollama)

	handlers := api.NewHandler(chatService, promptService, inference, authService, cache)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
