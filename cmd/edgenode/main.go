// edgenode is the HTTP shell around the edge tutoring node core. It wires
// every port adapter and component into a single edgeservice.Service and
// exposes the request-serving surface (spec §6) over gin. Grounded on the
// a flag-parsed config dir, .env loading via
// godotenv, a minimal gin router, structured startup logging.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/edge-tutor/node/pkg/backup"
	"github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/config"
	"github.com/edge-tutor/node/pkg/curriculum"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/edgeservice"
	"github.com/edge-tutor/node/pkg/health"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/pedagogy"
	"github.com/edge-tutor/node/pkg/ports"
	"github.com/edge-tutor/node/pkg/ports/embedhttp"
	"github.com/edge-tutor/node/pkg/ports/fsblob"
	"github.com/edge-tutor/node/pkg/ports/llmhttp"
	"github.com/edge-tutor/node/pkg/ports/memvector"
	"github.com/edge-tutor/node/pkg/rag"
	"github.com/edge-tutor/node/pkg/scheduler"
	"github.com/edge-tutor/node/pkg/store/postgres"
	"github.com/edge-tutor/node/pkg/telemetry"
	"github.com/edge-tutor/node/pkg/vkp"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx := context.Background()
	log := slog.Default()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbCfg, err := postgres.LoadConfigFromEnv()
	if err != nil {
		log.Error("failed to load database config", "error", err)
		os.Exit(1)
	}
	store, err := postgres.New(ctx, dbCfg)
	if err != nil {
		log.Error("failed to connect to relational store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("connected to relational store")

	vectorDir := getEnv("VECTOR_SNAPSHOT_DIR", "./data/vectors")
	vector, err := memvector.New(vectorDir)
	if err != nil {
		log.Error("failed to initialize vector store", "error", err, "dir", vectorDir)
		os.Exit(1)
	}

	// blobStore is the snapshot/artifact target. backup.Service writes to it
	// regardless of sovereign mode (local disaster-recovery copies); only its
	// use as a cloud push destination for telemetry and curriculum pulls is
	// gated on sovereign mode below.
	blobDir := getEnv("BLOB_STORE_DIR", "./data/blob")
	blobStore, err := fsblob.New(blobDir)
	if err != nil {
		log.Error("failed to initialize blob store", "error", err, "dir", blobDir)
		os.Exit(1)
	}

	queueDir := getEnv("TELEMETRY_QUEUE_DIR", "./data/telemetry-queue")
	telemetryQueue, err := fsblob.New(queueDir)
	if err != nil {
		log.Error("failed to initialize telemetry queue store", "error", err, "dir", queueDir)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: cfg.LLM.RequestTimeout}
	llm := llmhttp.NewClient(cfg.LLM.BaseURL, httpClient, log.With("component", "llm"))

	embedClient := &http.Client{Timeout: cfg.Embedder.RequestTimeout}
	embedder := embedhttp.NewClient(cfg.Embedder.BaseURL, cfg.Embedder.Dimension, embedClient, log.With("component", "embedder"))

	clock := ports.SystemClock{}
	rnd := ports.SystemRandom{}

	answerCache := cache.NewRedisBacked(ctx, cfg.Cache.MaxEntries, cfg.Cache.TTL, clock, cfg.Cache.RemoteAddr, log.With("component", "cache"))
	defer answerCache.Close()

	tracker := pedagogy.New(store, clock, log.With("component", "pedagogy"))
	vkpManager := vkp.New(store, vector, answerCache, clock, log.With("component", "vkp"))

	orchestrator := rag.New(answerCache, vector, embedder, llm, store, tracker, vkpManager, nil, clock, rnd, rag.DefaultConfig(), log.With("component", "rag"))

	sched := scheduler.New(cfg.Scheduler.WorkerCount, cfg.Scheduler.QueueCapacity, cfg.Scheduler.DrainTimeout, log.With("component", "scheduler"))

	var telemetryRemote ports.BlobStorePort
	if !cfg.Sovereign.Enabled {
		telemetryRemote = blobStore
	}

	telemetryPipeline := telemetry.New(telemetryQueue, telemetryRemote, clock, nil, telemetry.Config{
		RingCapacity:   cfg.Telemetry.RingBufferSize,
		UploadInterval: cfg.Telemetry.UploadInterval,
		SovereignMode:  cfg.Sovereign.Enabled,
	}, log.With("component", "telemetry"))

	backupService := backup.New(store, vector, blobStore, clock, backup.Config{
		FullSchedule:        cfg.Backup.FullSchedule,
		IncrementalSchedule: cfg.Backup.IncrementalSchedule,
		RetentionDays:       cfg.Backup.RetentionDays,
	}, telemetryPipeline, log.With("component", "backup"))

	var puller *curriculum.Puller
	if !cfg.Sovereign.Enabled {
		puller = curriculum.New(blobStore, vkpManager, telemetryPipeline, cfg.Curriculum.PullInterval, curriculum.DefaultPrefix, log.With("component", "curriculum"))
	}

	// svc implements health.RestartPolicy but the Monitor that would call it
	// is itself one of svc's Deps, so the restart callback is routed through
	// a forward-declared pointer rather than constructed in dependency order.
	var svc *edgeservice.Service
	healthMonitor := health.New(llm, vector, store, clock, health.Config{
		CheckInterval:       cfg.Health.CheckInterval,
		DiskThresholds:      health.Thresholds{WarnUsedPct: cfg.Health.DiskWarnPct, CriticalUsedPct: cfg.Health.DiskCritPct},
		MemoryThresholds:    health.Thresholds{WarnUsedPct: cfg.Health.MemWarnPct, CriticalUsedPct: cfg.Health.MemCritPct},
		CriticalStreakLimit: health.DefaultCriticalStreakLimit,
	}, restartPolicyFunc(func(ctx context.Context, component, reason string) {
		svc.Trigger(ctx, component, reason)
	}), log.With("component", "health"))

	svc = edgeservice.New(edgeservice.Deps{
		Scheduler:       sched,
		Cache:           answerCache,
		RAG:             orchestrator,
		Store:           store,
		Rand:            rnd,
		VKP:             vkpManager,
		Puller:          puller,
		Telemetry:       telemetryPipeline,
		Backup:          backupService,
		Health:          healthMonitor,
		AdmissionWindow: cfg.Scheduler.AdmissionWindow,
		Log:             log.With("component", "edgeservice"),
	})

	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	if puller != nil {
		puller.Start(ctx)
		defer puller.Stop()
	}

	telemetryPipeline.Start(ctx)
	defer telemetryPipeline.Stop()

	if err := backupService.Start(ctx); err != nil {
		log.Error("failed to start backup service", "error", err)
		os.Exit(1)
	}
	defer backupService.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, svc)

	log.Info("edgenode starting", "http_port", httpPort, "sovereign_mode", cfg.Sovereign.Enabled, "workers", cfg.Scheduler.WorkerCount)
	if err := router.Run(":" + httpPort); err != nil {
		log.Error("http server exited", "error", err)
		os.Exit(1)
	}
}

// submitQueryRequest is the JSON body for POST /v1/query. UserID, SubjectID,
// and Question are mandatory admission fields (spec §6 submit_query); the
// gin binding tag enforces that at the transport boundary before the
// request ever reaches the scheduler.
type submitQueryRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SubjectID string `json:"subject_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
}

func registerRoutes(router *gin.Engine, svc *edgeservice.Service) {
	router.GET("/health", func(c *gin.Context) {
		snap := svc.Health(c.Request.Context())
		status := http.StatusOK
		if snap.Overall == health.StatusCritical {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, snap)
	})

	router.POST("/v1/query", func(c *gin.Context) {
		var req submitQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var tokens []string
		h, err := svc.SubmitQuery(c.Request.Context(), models.Query{
			UserID:    req.UserID,
			SubjectID: req.SubjectID,
			Question:  req.Question,
		}, func(tok string) { tokens = append(tokens, tok) })
		if err != nil {
			writeEdgeErr(c, err)
			return
		}

		out := <-h.Result
		if out.Err != nil {
			writeEdgeErr(c, out.Err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"answer":               out.Answer.Text,
			"confidence":           out.Answer.Confidence,
			"sources":              out.Answer.Sources,
			"cache_hit":            out.Answer.CacheHit,
			"latency_ms":           out.Answer.LatencyMS,
			"queue_position_admit": h.Position,
		})
	})

	router.POST("/v1/query/:id/cancel", func(c *gin.Context) {
		if err := svc.CancelQuery(c.Param("id")); err != nil {
			writeEdgeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	router.GET("/v1/queue/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GetQueueStats())
	})

	router.GET("/v1/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GetCacheStats())
	})

	router.POST("/v1/cache/invalidate", func(c *gin.Context) {
		pattern := c.Query("pattern")
		n := svc.InvalidateCache(c.Request.Context(), pattern)
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	})

	router.GET("/v1/users/:user_id/subjects/:subject_id/mastery", func(c *gin.Context) {
		out, err := svc.GetMastery(c.Request.Context(), c.Param("user_id"), c.Param("subject_id"))
		if err != nil {
			writeEdgeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/v1/users/:user_id/subjects/:subject_id/weak-areas", func(c *gin.Context) {
		out, err := svc.GetWeakAreas(c.Request.Context(), c.Param("user_id"), c.Param("subject_id"))
		if err != nil {
			writeEdgeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/v1/users/:user_id/subjects/:subject_id/practice", func(c *gin.Context) {
		out, err := svc.GetPracticeQuestions(c.Request.Context(), c.Param("user_id"), c.Param("subject_id"), 10)
		if err != nil {
			writeEdgeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	router.POST("/v1/vkp/:subject/:grade/install", func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		version, err := svc.InstallVKP(c.Request.Context(), c.Param("subject"), c.Param("grade"), raw)
		if err != nil {
			writeEdgeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"active_version": version})
	})

	router.POST("/v1/vkp/:subject/:grade/rollback", func(c *gin.Context) {
		version, err := svc.RollbackVKP(c.Request.Context(), c.Param("subject"), c.Param("grade"))
		if err != nil {
			writeEdgeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"active_version": version})
	})
}

// writeEdgeErr maps an edgeerr.Kind to its HTTP status, per spec §7's error
// taxonomy.
func writeEdgeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch edgeerr.KindOf(err) {
	case edgeerr.BadRequest, edgeerr.ParseError:
		status = http.StatusBadRequest
	case edgeerr.OverCapacity:
		status = http.StatusTooManyRequests
	case edgeerr.Timeout:
		status = http.StatusGatewayTimeout
	case edgeerr.Cancelled:
		status = http.StatusConflict
	case edgeerr.DependencyUnavailable, edgeerr.Unhealthy:
		status = http.StatusServiceUnavailable
	case edgeerr.IncompatibleEmbedding, edgeerr.ChecksumMismatch, edgeerr.NoRollbackTarget:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": edgeerr.KindOf(err)})
}

// restartPolicyFunc adapts a plain function to health.RestartPolicy.
type restartPolicyFunc func(ctx context.Context, component, reason string)

func (f restartPolicyFunc) Trigger(ctx context.Context, component, reason string) {
	f(ctx, component, reason)
}

