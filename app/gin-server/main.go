package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"k8s.io/utils/clock"

	"github.com/yoockh/jobdance/config"
	"github.com/yoockh/jobdance/internal/api/handlers"
	"github.com/yoockh/jobdance/internal/api/middleware"
	"github.com/yoockh/jobdance/internal/api/routes"
	"github.com/yoockh/jobdance/internal/cache"
	"github.com/yoockh/jobdance/internal/gateway"
	"github.com/yoockh/jobdance/internal/logger"
	"github.com/yoockh/jobdance/internal/providers/llm"
	"github.com/yoockh/jobdance/internal/providers/stt"
	"github.com/yoockh/jobdance/internal/providers/tts"
	mongorepo "github.com/yoockh/jobdance/internal/repositories/mongo"
	pgrepo "github.com/yoockh/jobdance/internal/repositories/postgres"
	"github.com/yoockh/jobdance/internal/services"
	"github.com/yoockh/jobdance/internal/storage"
	"github.com/yoockh/jobdance/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg := config.LoadApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("mongodb init")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("mongodb indexes")
	}
	log.Info("mongodb connected")

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("postgres init")
	}
	if err := config.MigratePostgres(); err != nil {
		log.WithError(err).Fatal("postgres migrate")
	}
	log.Info("postgres connected")

	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("redis init")
	}
	log.Info("redis connected")

	provider, err := newLLM(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("llm provider")
	}
	defer provider.Close()

	var synth tts.Synthesizer
	if g, err := tts.NewGoogleTTS(ctx, cfg.TTSLanguage); err != nil {
		log.WithError(err).Warn("text-to-speech disabled; devices fall back to their own voice")
	} else {
		defer g.Close()
		synth = g
	}

	var audio handlers.AudioStore
	if cfg.AudioBucket != "" {
		gcs, err := storage.NewGCSStore(ctx, cfg.AudioBucket)
		if err != nil {
			log.WithError(err).Fatal("gcs")
		}
		defer gcs.Close()
		audio = gcs
	}

	queue := gateway.NewQueue(gateway.QueueConfig{
		BaseSpacing:    cfg.Queue.BaseSpacing,
		MaxSpacing:     cfg.Queue.MaxSpacing,
		Growth:         cfg.Queue.Growth,
		Decay:          cfg.Queue.Decay,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		InitialBackoff: cfg.Queue.InitialBackoff,
		MaxBackoff:     cfg.Queue.MaxBackoff,
		Jitter:         cfg.Queue.Jitter,
	}, clock.RealClock{}, logger.Component(log, "gateway"))
	gw := gateway.New(provider, synth, queue, cfg.Interview.MaxQuestions, logger.Component(log, "gateway"))

	mdb := config.MongoDatabase()
	rcache := cache.NewRedisCache(config.RedisClient)

	var embedder llm.Embedder
	if e, ok := provider.(llm.Embedder); ok {
		embedder = e
	}
	convos := services.NewConversationService(pgrepo.NewConversationRepo(config.PostgresDB), embedder, logger.Component(log, "conversations"))
	sessions := services.NewSessionService(mongorepo.NewSessionRepo(mdb), convos, logger.Component(log, "sessions"))
	profiles := services.NewProfileService(pgrepo.NewProfileRepo(config.PostgresDB), rcache, cfg.ProfileCacheTTL, logger.Component(log, "profiles"))
	reports := services.NewReportService(rcache, cfg.EphemeralTTL)

	ideps := handlers.InterviewDeps{
		Gateway:  gw,
		Sessions: sessions,
		Reports:  reports,
		Profiles: profiles,
		Audio:    audio,
		Config:   cfg,
		Clock:    clock.RealClock{},
		Log:      logger.Component(log, "interview"),
	}

	if cfg.STTEnabled {
		recognizer, err := stt.NewGoogleSpeech(ctx)
		if err != nil {
			log.WithError(err).Fatal("speech-to-text")
		}
		defer recognizer.Close()

		chunks := services.NewChunkService(mongorepo.NewChunkRepo(mdb), cfg.ChunkTTL)
		pool := &workers.STTWorkerPool{
			Redis:      config.RedisClient,
			Bus:        rcache,
			Chunks:     chunks,
			STT:        recognizer,
			NumWorkers: cfg.STTWorkers,
			Logger:     logger.Component(log, "stt"),
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("stt workers")
		}
		ideps.Chunks = chunks
		ideps.Redis = config.RedisClient
		ideps.Bus = rcache
		ideps.Stream = pool.Stream
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger.Component(log, "http")))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	interviews := handlers.NewInterviewHandler(ideps)
	routes.RegisterRoutes(r, routes.Deps{
		Auth: middleware.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		Session:      handlers.NewSessionHandler(sessions, reports),
		Profile:      handlers.NewProfileHandler(profiles),
		Conversation: handlers.NewConversationHandler(convos),
		Interview:    interviews,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	grace := cfg.Interview.ReportTimeout + cfg.Interview.PersistTimeout + 5*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	// websocket connections are hijacked, so Shutdown above does not wait for them
	if err := interviews.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("interviews did not finalize before shutdown")
	}
	_ = config.MongoClient.Disconnect(shutdownCtx)
	_ = config.RedisClient.Close()
}

func newLLM(ctx context.Context, cfg config.App) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case "vertex":
		return llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.LLMModel)
	case "gemini":
		return llm.NewGeminiAPI(ctx, cfg.GeminiAPIKey, cfg.LLMModel, cfg.EmbeddingModel)
	case "openai":
		return llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}
