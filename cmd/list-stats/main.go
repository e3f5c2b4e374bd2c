package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/KirkDiggler/localmsg/internal/config"
	"github.com/KirkDiggler/localmsg/internal/stats"
)

func main() {
	reset := flag.Bool("reset", false, "delete the counters after listing them")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Set up Redis
	redisURL := cfg.Redis.URL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	defer client.Close()

	// Test connection
	if _, pingErr := client.Ping(ctx).Result(); pingErr != nil {
		log.Fatalf("Failed to connect to Redis: %v", pingErr)
	}

	recorder, err := stats.NewRedisRecorder(&stats.RedisConfig{
		Client: client,
		Prefix: cfg.Stats.Prefix,
	})
	if err != nil {
		log.Fatalf("Failed to create stats reader: %v", err)
	}

	counts, err := recorder.Counts(ctx)
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}

	fmt.Printf("Found %d message ids under %q:\n", len(counts), cfg.Stats.Prefix)
	var dispatched, delivered int64
	for _, c := range counts {
		fmt.Printf("  %d: dispatched %d, delivered %d\n", c.ID, c.Dispatched, c.Delivered)
		dispatched += c.Dispatched
		delivered += c.Delivered
	}
	fmt.Printf("\nTotal: dispatched %d, delivered %d\n", dispatched, delivered)

	if *reset {
		if err := recorder.Reset(ctx); err != nil {
			log.Fatalf("Failed to reset stats: %v", err)
		}
		fmt.Println("Counters reset")
	}
}
