package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"qcache/internal/api"
	"qcache/internal/backends"
	"qcache/internal/config"
	"qcache/internal/generator"
	"qcache/internal/monitor"
	"qcache/internal/pool"
	"qcache/internal/pub"
	"qcache/internal/slots"
)

func main() {
	envFile := config.Getenv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}
	setupLogging()
	log.AddHook(instanceHook{id: uuid.NewString()})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poolCfg, err := config.PoolConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load pool config: %v", err)
	}
	genCfg, err := config.GeneratorConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load generator config: %v", err)
	}
	srvCfg, err := config.ServerConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load server config: %v", err)
	}

	registry := slots.Default()
	if path := os.Getenv(config.SlotsFileKey); path != "" {
		registry, err = slots.LoadRegistry(path)
		if err != nil {
			log.Fatalf("Failed to load slots from %s: %v", path, err)
		}
	}

	store, err := backends.FastStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to the fast store: %v", err)
	}
	questions, err := backends.QuestionStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize the question store: %v", err)
	}
	gen, err := generator.NewOpenAI(genCfg, questions)
	if err != nil {
		log.Fatalf("Failed to initialize the generator: %v", err)
	}

	var opts []pool.Option
	if arn := os.Getenv(config.PublishTopicARNKey); arn != "" {
		snsClient, err := backends.SNSClientFromEnv(ctx)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		opts = append(opts, pool.WithPublisher(pub.NewSNS(snsClient), arn))
	}
	mgr := pool.NewManager(store, gen, registry, poolCfg, opts...)

	ctrl := monitor.NewController(monitor.New(store, registry, mgr))
	if err := ctrl.OnStartup(ctx); err != nil {
		log.WithError(err).Warn("pool monitor not running, consumed entries will not be replenished")
	}

	stop, done := api.RunServerInterruptible(srvCfg.Port, api.NewHandler(mgr, questions, ctrl.Monitor(), srvCfg.RequestTimeout))
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		stop <- struct{}{}
		err = <-done
	case err = <-done:
	}
	ctrl.OnShutdown()
	if err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func setupLogging() {
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
	lvl, err := log.ParseLevel(config.Getenv("LOG_LEVEL", "info"))
	if err != nil {
		log.Warnf("unknown LOG_LEVEL, using info: %v", err)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// instanceHook tags every entry with the process instance id.
type instanceHook struct {
	id string
}

func (h instanceHook) Levels() []log.Level { return log.AllLevels }

func (h instanceHook) Fire(e *log.Entry) error {
	e.Data["instance"] = h.id
	return nil
}
