// Command server is an example HTTP front end over the Engine Facade: one
// file, no middleware stack, wiring Gin routes directly to facade methods.
// It is not part of the engine's public API surface (C.6) — the kernel never
// imports anything from cmd/.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/yawl-engine/core/internal/config"
	"github.com/yawl-engine/core/internal/infrastructure/storage"
	"github.com/yawl-engine/core/internal/platform/listener"
	"github.com/yawl-engine/core/internal/platform/logging"
	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/engine"
	"github.com/yawl-engine/core/pkg/exprlang"
	"github.com/yawl-engine/core/pkg/kernel"
	"github.com/yawl-engine/core/pkg/persistence/redisqueue"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/timer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logging.New(cfg.Logging)
	logging.SetDefault(appLogger)
	appLogger.Info("starting yawl-engine server", "variant", cfg.Engine.Variant, "port", cfg.Server.Port)

	registry := spec.NewRegistry()
	announcer := announce.New(appLogger)
	runner := kernel.New(exprlang.New(256), announcer, kernel.Config{OrJoinDepthBudget: cfg.Engine.OrJoinDepthBudget})

	var commit engine.CommitStrategy
	var evictor *engine.IdleEvictor

	switch cfg.Engine.Variant {
	case "persistent":
		db, err := newBunDB(cfg.Persistence, cfg.Logging.Level == "debug")
		if err != nil {
			appLogger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		commit = engine.NewPersistentCommit(storage.NewCaseStore(db))
	case "stateless":
		var tracker *redisqueue.Tracker
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			appLogger.Warn("redis unavailable, idle tracking is process-local only", "error", err)
		} else {
			defer client.Close()
			tracker = redisqueue.New(client, "yawl:idle")
		}
		commit = engine.NewStatelessCommit(tracker)
	default:
		appLogger.Error("unknown engine variant", "variant", cfg.Engine.Variant)
		os.Exit(1)
	}

	var eng *engine.Engine
	if cfg.Engine.Variant == "stateless" {
		eng = engine.New(registry, runner, announcer, commit)
		evictor = engine.NewIdleEvictor(eng, cfg.Engine.IdleEvictionTimeout)
		engine.WithIdleEvictor(evictor)(eng)
	} else {
		eng = engine.New(registry, runner, announcer, commit)
	}

	hub := listener.NewWebsocketHub(cfg.Listener, appLogger)
	wsListener := listener.NewWebsocketListener(hub, nil, appLogger)
	if err := eng.RegisterListener(wsListener, announce.Deferred); err != nil {
		appLogger.Error("failed to register websocket listener", "error", err)
	}

	sched := timer.NewScheduler(time.Now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx, cfg.Timer.Resolution)
	go eng.RunTimers(ctx, sched)
	if evictor != nil {
		go evictor.Run(ctx, cfg.Engine.IdleEvictionTimeout/2, time.Now)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, eng)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()
	appLogger.Info("server listening", "addr", srv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("graceful shutdown failed", "error", err)
	}
}

func newBunDB(cfg config.PersistenceConfig, debug bool) (*bun.DB, error) {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxConnections)
	sqldb.SetMaxIdleConns(cfg.MinConnections)
	sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)
	sqldb.SetConnMaxIdleTime(cfg.MaxIdleTime)
	if err := sqldb.Ping(); err != nil {
		return nil, err
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	opts.PoolSize = cfg.PoolSize
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// registerRoutes wires the Engine Facade's public operations to HTTP, per
// C.6: thin request decode/encode only, no business logic here.
func registerRoutes(r *gin.Engine, eng *engine.Engine) {
	r.POST("/specifications", func(c *gin.Context) {
		var doc specDocument
		if err := c.ShouldBindJSON(&doc); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		sp, err := doc.toSpecification()
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		if err := eng.LoadSpecification(sp); err != nil {
			respondError(c, http.StatusConflict, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"uri": sp.URI, "version": sp.Version})
	})

	r.DELETE("/specifications/:uri/:version", func(c *gin.Context) {
		if err := eng.UnloadSpecification(c.Param("uri"), c.Param("version")); err != nil {
			respondError(c, http.StatusConflict, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/cases", func(c *gin.Context) {
		var req struct {
			SpecURI     string         `json:"spec_uri" binding:"required"`
			SpecVersion string         `json:"spec_version" binding:"required"`
			Input       map[string]any `json:"input"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		caseID, err := eng.LaunchCase(c.Request.Context(), req.SpecURI, req.SpecVersion, req.Input)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"case_id": caseID})
	})

	r.GET("/cases/:caseID/workitems", func(c *gin.Context) {
		items, err := eng.ListWorkItems(c.Param("caseID"), runtime.WorkItemFilter{})
		if err != nil {
			respondError(c, http.StatusNotFound, err)
			return
		}
		c.JSON(http.StatusOK, items)
	})

	r.POST("/cases/:caseID/workitems/:workItemID/checkout", func(c *gin.Context) {
		var req struct {
			ResourceHandle string `json:"resource_handle"`
		}
		_ = c.ShouldBindJSON(&req)
		err := eng.CheckOutWorkItem(c.Request.Context(), c.Param("caseID"), c.Param("workItemID"), req.ResourceHandle)
		respondOutcome(c, err)
	})

	r.POST("/cases/:caseID/workitems/:workItemID/start", func(c *gin.Context) {
		err := eng.StartWorkItem(c.Request.Context(), c.Param("caseID"), c.Param("workItemID"))
		respondOutcome(c, err)
	})

	r.POST("/cases/:caseID/workitems/:workItemID/checkin", func(c *gin.Context) {
		var req struct {
			Output map[string]any `json:"output"`
		}
		_ = c.ShouldBindJSON(&req)
		err := eng.CheckInWorkItem(c.Request.Context(), c.Param("caseID"), c.Param("workItemID"), req.Output)
		respondOutcome(c, err)
	})

	r.POST("/cases/:caseID/workitems/:workItemID/fail", func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&req)
		err := eng.FailWorkItem(c.Request.Context(), c.Param("caseID"), c.Param("workItemID"), req.Reason)
		respondOutcome(c, err)
	})

	r.POST("/cases/:caseID/suspend", func(c *gin.Context) {
		respondOutcome(c, eng.SuspendCase(c.Request.Context(), c.Param("caseID")))
	})
	r.POST("/cases/:caseID/resume", func(c *gin.Context) {
		respondOutcome(c, eng.ResumeCase(c.Request.Context(), c.Param("caseID")))
	})
	r.POST("/cases/:caseID/cancel", func(c *gin.Context) {
		respondOutcome(c, eng.CancelCase(c.Request.Context(), c.Param("caseID")))
	})

	r.GET("/cases/:caseID/export", func(c *gin.Context) {
		snapshot, err := eng.ExportCase(c.Param("caseID"))
		if err != nil {
			respondError(c, http.StatusNotFound, err)
			return
		}
		c.Data(http.StatusOK, "application/json", snapshot)
	})

	r.POST("/cases/import", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		caseID, err := eng.ImportCase(body)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"case_id": caseID})
	})
}

func respondOutcome(c *gin.Context, err error) {
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
