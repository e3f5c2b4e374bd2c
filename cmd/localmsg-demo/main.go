package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/KirkDiggler/localmsg/internal/bus"
	"github.com/KirkDiggler/localmsg/internal/config"
	"github.com/KirkDiggler/localmsg/internal/listeners"
	"github.com/KirkDiggler/localmsg/internal/message"
	"github.com/KirkDiggler/localmsg/internal/stats"
)

const (
	msgSampleEvent = iota + 1
	msgCustomPayloadEvent
)

type customObject struct {
	value string
}

func main() {
	producers := flag.IntP("producers", "p", 4, "number of goroutines posting events")
	events := flag.IntP("events", "n", 10, "events posted by each producer")
	debugFlag := flag.Bool("debug", false, "trace every delivery (overrides LOCALMSG_DEBUG)")
	wait := flag.Bool("wait", false, "keep running until interrupted")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if flag.CommandLine.Changed("debug") {
		cfg.Bus.Debug = *debugFlag
	}

	bus.SetDebug(cfg.Bus.Debug)
	bus.SetStrict(cfg.Bus.Strict)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	memory := stats.NewMemory()
	var recorder stats.Recorder = memory

	// Keep Redis client for cleanup
	var redisClient *redis.Client
	var statsDone chan error

	if cfg.Redis.URL != "" {
		log.Printf("Connecting to Redis at: %s", cfg.Redis.URL)

		opts, parseErr := redis.ParseURL(cfg.Redis.URL)
		if parseErr != nil {
			log.Printf("Failed to parse Redis URL: %v", parseErr)
			log.Println("Falling back to in-memory stats")
		} else {
			redisClient = redis.NewClient(opts)

			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancel()

			if pingErr != nil {
				log.Printf("Failed to connect to Redis: %v", pingErr)
				log.Println("Falling back to in-memory stats")
			} else {
				redisRecorder, recErr := stats.NewRedisRecorder(&stats.RedisConfig{
					Client: redisClient,
					Prefix: cfg.Stats.Prefix,
				})
				if recErr != nil {
					log.Fatalf("Failed to create Redis stats recorder: %v", recErr)
				}
				recorder = redisRecorder

				statsDone = make(chan error, 1)
				go func() {
					statsDone <- redisRecorder.Run(ctx, cfg.Stats.FlushInterval)
				}()
				log.Printf("Using Redis for stats under prefix %q", cfg.Stats.Prefix)
			}
		}
	} else {
		log.Println("No REDIS_URL found, using in-memory stats")
	}

	b, err := bus.New(&bus.Config{
		Recorder:         recorder,
		IsolateListeners: cfg.Bus.IsolateListeners,
	})
	if err != nil {
		log.Fatalf("Failed to create bus: %v", err)
	}
	if err := b.Start(); err != nil {
		log.Fatalf("Failed to start bus: %v", err)
	}

	if _, err := b.AddListener(msgSampleEvent, listeners.Func(func(msg *message.Message) {
		fmt.Printf("Received simple event (%d)\n", msg.When().UnixMilli()/100)
	})); err != nil {
		log.Fatalf("Failed to add listener: %v", err)
	}

	if _, err := b.AddUniversalListener(listeners.Func(func(msg *message.Message) {
		if msg.ID() != msgCustomPayloadEvent {
			return
		}
		obj, ok := msg.Object().(*customObject)
		if !ok {
			log.Printf("Unexpected payload %T for message ID %d", msg.Object(), msg.ID())
			return
		}
		fmt.Printf("Received custom object (%s)\n", obj.value)
	})); err != nil {
		log.Fatalf("Failed to add universal listener: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < *producers; p++ {
		g.Go(func() error {
			for i := 0; i < *events; i++ {
				if gctx.Err() != nil {
					return nil
				}
				var err error
				if i%2 == 0 {
					err = b.Send(msgSampleEvent)
				} else {
					err = b.SendObject(msgCustomPayloadEvent, &customObject{value: fmt.Sprintf("producer %d #%d", p, i)})
				}
				if err != nil {
					return fmt.Errorf("producer %d: %w", p, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("Failed to post events: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := b.Flush(flushCtx); err != nil {
		log.Printf("Failed to flush bus: %v", err)
	}
	cancel()

	if *wait {
		fmt.Println("Bus is now running. Press CTRL-C to exit.")
		<-ctx.Done()
	}

	fmt.Println("Shutting down...")
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		log.Printf("Error stopping bus: %v", err)
	}

	st := b.Stats()
	fmt.Printf("Dispatched %d messages, %d deliveries, %d listener panics\n", st.Dispatched, st.Delivered, st.Panics)
	if statsDone == nil {
		for _, c := range memory.Counts() {
			fmt.Printf("  message %d: dispatched %d, delivered %d\n", c.ID, c.Dispatched, c.Delivered)
		}
	} else {
		fmt.Println("Per-message counters were written to Redis, see list-stats")
	}

	if statsDone != nil {
		if err := <-statsDone; err != nil {
			log.Printf("Error flushing stats: %v", err)
		}
	}

	// Clean up Redis connection if we have one
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		} else {
			log.Println("Closed Redis connection")
		}
	}
}
