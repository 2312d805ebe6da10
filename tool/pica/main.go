// Pica
// Copyright (C) 2025 Pica, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command pica runs the gateway processes: the API server and the watchdog.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/picahq/pica/lib/accesskey"
	"github.com/picahq/pica/lib/config"
	"github.com/picahq/pica/lib/defaults"
	"github.com/picahq/pica/lib/dispatch"
	"github.com/picahq/pica/lib/k8s"
	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/pipeline"
	"github.com/picahq/pica/lib/ratelimit"
	"github.com/picahq/pica/lib/secrets"
	"github.com/picahq/pica/lib/track"
	"github.com/picahq/pica/lib/types"
	"github.com/picahq/pica/lib/utils"
	"github.com/picahq/pica/lib/watchdog"
	"github.com/picahq/pica/lib/web"
)

const version = "1.0.0"

func main() {
	// A missing .env is fine; deployments configure through the real
	// environment.
	_ = godotenv.Load()

	app := kingpin.New("pica", "Pica gateway.")
	debug := app.Flag("debug", "Enable verbose logging.").Bool()
	apiCmd := app.Command("api", "Run the API server.")
	watchdogCmd := app.Command("watchdog", "Run the watchdog.")
	versionCmd := app.Command("version", "Print the version and exit.")

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case apiCmd.FullCommand():
		err = runAPI(ctx, log)
	case watchdogCmd.FullCommand():
		err = runWatchdog(ctx, log)
	case versionCmd.FullCommand():
		fmt.Println(version)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("process exited with error", "error", err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, log *slog.Logger) error {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		return trace.Wrap(err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DatabaseURL))
	if err != nil {
		return trace.Wrap(err)
	}
	defer client.Disconnect(context.Background())
	db := client.Database(cfg.DatabaseName)

	stores := web.Stores{
		EventAccess:   mongostore.NewStore(mongostore.NewCollection[types.EventAccess](db.Collection(defaults.CollectionEventAccess))),
		Connections:   mongostore.NewStore(mongostore.NewCollection[types.Connection](db.Collection(defaults.CollectionConnections))),
		Definitions:   mongostore.NewStore(mongostore.NewCollection[types.ConnectionDefinition](db.Collection(defaults.CollectionConnectionDefinitions))),
		OAuthDefs:     mongostore.NewStore(mongostore.NewCollection[types.ConnectionOAuthDefinition](db.Collection(defaults.CollectionOAuthDefinitions))),
		ModelSchemas:  mongostore.NewStore(mongostore.NewCollection[types.ConnectionModelSchema](db.Collection(defaults.CollectionModelSchemas))),
		PublicDetails: mongostore.NewStore(mongostore.NewCollection[types.PublicConnectionDetails](db.Collection(defaults.CollectionPublicConnectionDetails))),
		Settings:      mongostore.NewStore(mongostore.NewCollection[types.Settings](db.Collection(defaults.CollectionSettings))),
		Events:        mongostore.NewStore(mongostore.NewCollection[types.Event](db.Collection(defaults.CollectionEvents))),
		Tasks:         mongostore.NewStore(mongostore.NewCollection[types.Task](db.Collection(defaults.CollectionTasks))),
		Knowledge:     mongostore.NewStore(mongostore.NewCollection[types.Knowledge](db.Collection(defaults.CollectionModelDefinitions))),
		Metrics:       mongostore.NewStore(mongostore.NewCollection[bson.M](db.Collection(defaults.CollectionMetrics))),
	}

	encryptor, err := newEncryptor(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	secretSvc, err := secrets.NewService(
		mongostore.NewStore(mongostore.NewCollection[secrets.Record](db.Collection(defaults.CollectionSecrets))), encryptor)
	if err != nil {
		return trace.Wrap(err)
	}

	codec, err := accesskey.NewCodec([]byte(cfg.EventAccessPassword))
	if err != nil {
		return trace.Wrap(err)
	}

	// Rate limiting fails open: with Redis down the gateway serves
	// unthrottled rather than not at all.
	var limiter *ratelimit.Limiter
	if redisClient, err := newRedisClient(cfg.RedisURL); err != nil {
		log.Warn("redis unavailable, rate limiting disabled", "error", err)
	} else if limiter, err = ratelimit.New(ctx, ratelimit.Config{Client: redisClient}); err != nil {
		log.Warn("redis unavailable, rate limiting disabled", "error", err)
		limiter = nil
	}

	keyCache, err := utils.NewFnCache[*types.SparseCMD](utils.FnCacheConfig{TTL: cfg.Cache.ModelDefinitionTTL, Size: cfg.Cache.Size})
	if err != nil {
		return trace.Wrap(err)
	}
	idCache, err := utils.NewFnCache[*types.SparseCMD](utils.FnCacheConfig{TTL: cfg.Cache.ModelDefinitionTTL, Size: cfg.Cache.Size})
	if err != nil {
		return trace.Wrap(err)
	}
	accessCache, err := utils.NewFnCache[*types.EventAccess](utils.FnCacheConfig{TTL: cfg.Cache.AccessTTL, Size: cfg.Cache.Size})
	if err != nil {
		return trace.Wrap(err)
	}
	connCache, err := utils.NewFnCache[*types.Connection](utils.FnCacheConfig{TTL: cfg.Cache.ConnectionTTL, Size: cfg.Cache.Size})
	if err != nil {
		return trace.Wrap(err)
	}
	oauthCache, err := utils.NewFnCache[*types.ConnectionOAuthDefinition](utils.FnCacheConfig{TTL: cfg.Cache.OAuthDefinitionTTL, Size: cfg.Cache.Size})
	if err != nil {
		return trace.Wrap(err)
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Definitions: mongostore.NewStore(mongostore.NewCollection[types.SparseCMD](db.Collection(defaults.CollectionModelDefinitions))),
		KeyCache:    keyCache,
		IDCache:     idCache,
		Secrets:     secretSvc,
		Extractor:   dispatch.NewHTTPExtractor(cfg.HTTPClientTimeout),
	})
	if err != nil {
		return trace.Wrap(err)
	}

	var tracker track.Tracker = track.NewLoggerTracker(log)
	if cfg.PosthogWriteKey != "" {
		if tracker, err = track.NewPosthogTracker(track.PosthogConfig{
			WriteKey: cfg.PosthogWriteKey,
			Endpoint: cfg.PosthogEndpoint,
		}); err != nil {
			return trace.Wrap(err)
		}
	}

	events, err := pipeline.NewEventSink(pipeline.EventSinkConfig{
		Store:        stores.Events,
		BufferSize:   cfg.EventSaveBufferSize,
		FlushTimeout: cfg.EventSaveTimeout,
		Log:          log,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	metrics, err := pipeline.NewMetricSink(pipeline.MetricSinkConfig{
		Store:       mongostore.NewStore(mongostore.NewCollection[bson.M](db.Collection(defaults.CollectionMetrics))),
		Tracker:     tracker,
		SystemID:    cfg.MetricSystemID,
		ChannelSize: cfg.MetricSaveChannelSize,
		Log:         log,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	var driver k8s.Driver = k8s.NewLoggerDriver(log)
	if cfg.K8sMode == config.K8sReal {
		if driver, err = k8s.NewClusterDriver("default", log); err != nil {
			return trace.Wrap(err)
		}
	}

	handler, err := web.NewHandler(web.Config{
		HeaderAuth:           cfg.HeaderAuth,
		HeaderConnection:     cfg.HeaderConnection,
		Stores:               stores,
		Caches:               web.Caches{Access: accessCache, Conn: connCache, OAuthDefs: oauthCache},
		Codec:                codec,
		Dispatcher:           dispatcher,
		Limiter:              limiter,
		Events:               events,
		Metrics:              metrics,
		Tracker:              tracker,
		Secrets:              secretSvc,
		K8s:                  driver,
		OAuthURL:             cfg.OAuthURL,
		EngineeringAccountID: cfg.EngineeringAccountID,
		HTTPClient:           &http.Client{Timeout: cfg.HTTPClientTimeout},
		Log:                  log,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	srv := &http.Server{Addr: cfg.Address, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		log.Info("api server listening", "address", cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	// Drain in-flight requests, then the telemetry pipelines.
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}
	if err := events.Close(shutdownCtx); err != nil {
		log.Warn("event sink drain incomplete", "error", err)
	}
	if err := metrics.Close(shutdownCtx); err != nil {
		log.Warn("metric sink drain incomplete", "error", err)
	}
	return nil
}

func runWatchdog(ctx context.Context, log *slog.Logger) error {
	cfg, err := config.LoadWatchdogConfig()
	if err != nil {
		return trace.Wrap(err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DatabaseURL))
	if err != nil {
		return trace.Wrap(err)
	}
	defer client.Disconnect(context.Background())

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return trace.Wrap(err)
	}

	w, err := watchdog.New(watchdog.Config{
		Tasks: mongostore.NewStore(mongostore.NewCollection[types.Task](
			client.Database(cfg.DatabaseName).Collection(defaults.CollectionTasks))),
		Redis:           redisClient,
		RefreshInterval: cfg.RefreshInterval,
		MaxTasks:        cfg.MaxTasks,
		HTTPClient:      &http.Client{Timeout: cfg.HTTPClientTimeout},
		Log:             log,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	log.Info("watchdog running", "refresh_interval", cfg.RefreshInterval, "max_tasks", cfg.MaxTasks)
	return trace.Wrap(w.Run(ctx))
}

func newEncryptor(ctx context.Context, cfg *config.APIConfig) (secrets.Encryptor, error) {
	switch cfg.KMSProvider {
	case config.KMSGoogle:
		enc, err := secrets.NewGoogleKMS(ctx, secrets.GoogleKMSConfig{
			ProjectID: cfg.GoogleKMSProject,
			Location:  cfg.GoogleKMSLocation,
			KeyRing:   cfg.GoogleKMSKeyRing,
			KeyName:   cfg.GoogleKMSKey,
		})
		return enc, trace.Wrap(err)
	case config.KMSIos:
		enc, err := secrets.NewLocalKMS([]byte(cfg.IosCryptoSecret))
		return enc, trace.Wrap(err)
	default:
		return nil, trace.BadParameter("unknown secrets provider %q", cfg.KMSProvider)
	}
}

func newRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return redis.NewClient(opts), nil
}
