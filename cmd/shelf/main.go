package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-gonic/gin"

	"shelf/internal/adapter"
	"shelf/internal/apq"
	"shelf/internal/engine"
	"shelf/internal/resolvers"
	"shelf/internal/schema"
	"shelf/pkg/config"
	"shelf/pkg/logging"
	"shelf/pkg/monitoring"
	"shelf/pkg/redis"
	"shelf/pkg/server"
	"shelf/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService(version.ComponentName)

	config.LoadEnv(logger)

	logger.WithField("version", version.String()).Info("Starting shelf GraphQL server")

	cfg := loadAppConfig()
	app, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize GraphQL server")
	}
	defer app.Close()

	serverConfig := server.DefaultConfig(version.ComponentName, "4000")
	logger.Infof("Server ready at http://localhost:%s%s", serverConfig.Port, cfg.GraphQLPath)

	if err := server.Start(serverConfig, app.router, logger); err != nil {
		logger.Fatal("Failed to start server: " + err.Error())
	}
}

type appConfig struct {
	GraphQLPath       string
	MaxBodyBytes      int64
	MaxDepth          int
	ExecutionTimeout  time.Duration
	PlaygroundEnabled bool
	APQTTL            time.Duration
	APQMaxEntries     int
	RedisURL          string
	Schema            schema.Options
}

func loadAppConfig() appConfig {
	path := "/" + strings.Trim(config.GetEnv("GRAPHQL_PATH", "/graphql"), "/")
	return appConfig{
		GraphQLPath:      path,
		MaxBodyBytes:     config.GetEnvInt64("GRAPHQL_MAX_BODY_BYTES", adapter.DefaultMaxBodyBytes),
		MaxDepth:         config.GetEnvInt("GRAPHQL_MAX_DEPTH", engine.DefaultMaxDepth),
		ExecutionTimeout: config.GetEnvDuration("GRAPHQL_EXECUTION_TIMEOUT", engine.DefaultExecutionTimeout),
		// Playground defaults to on outside release mode
		PlaygroundEnabled: config.GetEnvBool("GRAPHQL_PLAYGROUND_ENABLED", config.GetEnv("GIN_MODE", "debug") != "release"),
		APQTTL:            config.GetEnvDuration("APQ_TTL", apq.DefaultTTL),
		APQMaxEntries:     config.GetEnvInt("APQ_MAX_ENTRIES", apq.DefaultMaxEntries),
		RedisURL:          config.GetEnv("REDIS_URL", ""),
		Schema:            schema.OptionsFromEnv(),
	}
}

type app struct {
	router  *gin.Engine
	engine  *engine.Engine
	closers []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

func newApp(ctx context.Context, cfg appConfig, logger logging.Logger) (*app, error) {
	src, err := schema.Load(cfg.Schema)
	if err != nil {
		return nil, err
	}
	logger.WithField("schema", src.Origin).Info("GraphQL schema loaded")

	healthChecker := monitoring.NewHealthChecker(version.ComponentName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(version.ComponentName, version.Version, version.GitCommit)
	graphqlMetrics := metricsCollector.CreateGraphQLMetrics()

	a := &app{}

	var store apq.Store
	if cfg.RedisURL != "" {
		client, err := redis.NewClientFromURL(ctx, cfg.RedisURL, redis.Options{})
		if err != nil {
			return nil, fmt.Errorf("apq redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store = apq.NewCachedStore(apq.NewRedisStore(client, cfg.APQTTL), cfg.APQMaxEntries, graphqlMetrics)
		healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", redis.Pinger{Client: client}))
		logger.Info("Persisted queries stored in Redis")
	} else {
		store = apq.NewMemoryStore(cfg.APQTTL, cfg.APQMaxEntries, graphqlMetrics)
	}

	eng := engine.New(engine.Config{
		MaxDepth:         cfg.MaxDepth,
		ExecutionTimeout: cfg.ExecutionTimeout,
		APQ:              store,
		Metrics:          graphqlMetrics,
	}, src.Text, resolvers.New(), logger)
	if err := eng.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng
	logger.WithFields(logging.Fields{
		"max_depth":         cfg.MaxDepth,
		"execution_timeout": cfg.ExecutionTimeout.String(),
	}).Info("GraphQL engine started")

	healthChecker.AddCheck("engine", monitoring.ReadinessHealthCheck("graphql engine", eng.Ready))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"GRAPHQL_PATH": cfg.GraphQLPath,
	}))

	router := server.SetupServiceRouter(logger, version.ComponentName, healthChecker, metricsCollector)

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": version.ComponentName,
			"status":  "ready",
			"schema":  src.Origin,
			"version": version.GetInfo(),
		})
	})

	handler := adapter.New(eng, logger, adapter.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Metrics:      graphqlMetrics,
	})
	router.POST(cfg.GraphQLPath, handler.ServeGraphQL)
	router.GET(cfg.GraphQLPath, handler.ServeGraphQL)
	router.GET(subPath(cfg.GraphQLPath, "ws"), handler.ServeWebSocket)

	if cfg.PlaygroundEnabled {
		router.GET(subPath(cfg.GraphQLPath, "playground"), gin.WrapH(playground.Handler("GraphQL Playground", cfg.GraphQLPath)))
		logger.Info("GraphQL Playground enabled at " + subPath(cfg.GraphQLPath, "playground"))
	}

	a.router = router
	return a, nil
}

func subPath(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + name
}
