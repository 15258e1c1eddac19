package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"ideaboard/pkg/api"
	"ideaboard/pkg/storage"
	"ideaboard/pkg/storage/memdb"
	"ideaboard/pkg/storage/mongo"
)

type Config struct {
	ServiceName string `toml:"serviceName"`

	HTTPAddr   string `toml:"httpAddr"`
	LogLevel   string `toml:"logLevel"`
	KafkaAddr  string `toml:"kafkaAddr"`
	KafkaTopic string `toml:"kafkaTopic"`
	KafkaBatch int    `toml:"kafkaBatch"`

	AdminToken       string `toml:"adminToken"`
	ReconcileMinutes int    `toml:"reconcileMinutes"`
	SeedOnStart      bool   `toml:"seedOnStart"`
	MemFallback      bool   `toml:"memFallback"`
}

func main() {
	var (
		configPath string
		dev        bool
		httpAddr   string
		logLevel   string
		kafkaAddr  string
		kafkaTopic string
		kafkaBatch int
		reconcile  int
	)

	flag.StringVar(&configPath, "config", "cmd/server/config.toml", "Path to TOML config file")
	flag.BoolVar(&dev, "dev", false, "Run the server in development mode with in-memory DB.")
	flag.StringVar(&httpAddr, "http", "", "HTTP server address in the form 'host:port'.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.StringVar(&kafkaAddr, "kafka", "", "Kafka server address in the form 'host:port'.")
	flag.StringVar(&kafkaTopic, "topic", "", "Kafka topic.")
	flag.IntVar(&kafkaBatch, "batch", 0, "Kafka batch size.")
	flag.IntVar(&reconcile, "reconcile", 0, "Vote count reconcile interval in minutes, 0 disables.")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Info("[server] no .env file found, using system environment")
	}

	var cfg Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		log.Fatalf("[server] failed to load config file %s: %v", configPath, err)
	}

	// Override config with flags if set
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if kafkaAddr != "" {
		cfg.KafkaAddr = kafkaAddr
	}
	if kafkaTopic != "" {
		cfg.KafkaTopic = kafkaTopic
	}
	if kafkaBatch != 0 {
		cfg.KafkaBatch = kafkaBatch
	}
	if reconcile != 0 {
		cfg.ReconcileMinutes = reconcile
	}
	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		cfg.AdminToken = token
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ideaboard"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8090"
	}

	if !strings.Contains(cfg.HTTPAddr, ":") {
		log.Warn("[server] use ':' before port number, e.g. ':8080'")
	}

	switch cfg.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	}

	var (
		sdb storage.Storage
		mdb *mongo.Storage
	)

	switch dev {
	case true:
		log.Info("[server] running with in-memory store")
		sdb = memdb.New()

	case false:
		conf, err := mongo.NewConfig()
		if err != nil {
			log.Warnf("[server] mongo config incomplete: %v", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			db, err := mongo.New(ctx, conf)
			if err != nil {
				log.Warnf("[server] failed to connect to mongo: %v", err)
			} else if err := db.Ping(ctx); err != nil {
				log.Warnf("[server] %v: %v", mongo.ErrDBNotResponding, err)
				db.Close(ctx)
			} else {
				log.Infof("[server] connected to mongo at %s:%s/%s", conf.Host, conf.Port, conf.DBName)
				mdb = db
				sdb = db
			}
			cancel()
		}

		if sdb == nil && cfg.MemFallback {
			log.Warn("[server] falling back to in-memory store")
			sdb = memdb.New()
		}
	}

	if sdb == nil {
		log.Warn("[server] no storage configured, API will reject requests")
	}

	if cfg.SeedOnStart && sdb != nil {
		// Best-effort: a failed seed must not block startup.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		seeded, err := storage.SeedIfEmpty(ctx, sdb)
		cancel()
		if err != nil {
			log.Warnf("[server] failed to seed sample data: %v", err)
		} else if seeded {
			log.Info("[server] seeded sample data into empty store")
		}
	}

	var kafkaWriter *kafka.Writer
	if cfg.KafkaAddr != "" && cfg.KafkaTopic != "" {
		kafkaWriter = &kafka.Writer{
			Addr:      kafka.TCP(cfg.KafkaAddr),
			Topic:     cfg.KafkaTopic,
			BatchSize: cfg.KafkaBatch,
		}
		err := createTopic(kafkaWriter.Addr.String(), kafkaWriter.Topic)
		if err != nil {
			log.Warnf("[server] failed to create Kafka topic: %v", err)
		}
	} else {
		log.Warnf("[server] kafka was not configured, logs will not be sent to Kafka")
	}

	var (
		done = make(chan struct{})
		wg   sync.WaitGroup
	)

	if cfg.ReconcileMinutes > 0 && sdb != nil {
		wg.Add(1)
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.ReconcileMinutes) * time.Minute)

			defer func() {
				ticker.Stop()
				log.Info("[server] vote count reconciler stopped")
				wg.Done()
			}()

			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					fixed, err := sdb.ReconcileVoteCounts(ctx)
					cancel()
					if err != nil {
						log.Warnf("[server] vote count reconcile failed: %v", err)
					} else if fixed > 0 {
						log.Infof("[server] vote count reconcile repaired %d posts", fixed)
					}
				}
			}
		}()
	}

	api := api.New(cfg.ServiceName, sdb, kafkaWriter, cfg.AdminToken)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Infof("[server] starting on port %v", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
			return
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	close(done)
	wg.Wait()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}

	if mdb != nil {
		mdb.Close(shutdownCtx)
		log.Info("[server] disconnected from DB")
	}
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}
