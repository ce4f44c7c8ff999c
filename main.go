package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/auth"
	"lifestyle-studio-server/modules/common/config"
	"lifestyle-studio-server/modules/common/database"
	"lifestyle-studio-server/modules/common/logger"
	"lifestyle-studio-server/modules/common/middleware"
	"lifestyle-studio-server/modules/common/model"
	redisutil "lifestyle-studio-server/modules/common/redis"
	"lifestyle-studio-server/modules/common/storage"
	"lifestyle-studio-server/modules/jobs"
	"lifestyle-studio-server/modules/realtime"
	"lifestyle-studio-server/modules/webhook"
	"lifestyle-studio-server/modules/worker"
)

// publisher fans a job event out to every sink.
type publisher []jobs.Publisher

func (p publisher) Publish(ctx context.Context, ev model.JobEvent) error {
	var errs []error
	for _, sink := range p {
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "lifestyle-studio-server",
	})
}

// readyCheck - DB, Redis 연결 확인
func readyCheck(db *database.Client, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "disabled"}
		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		apierror.WriteJSON(w, status, checks)
	}
}

// 서버 메트릭 조회 엔드포인트
func getMetrics(hub *realtime.Hub, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"realtime": hub.Stats(),
		}
		if rdb != nil {
			queueLen, err := rdb.LLen(r.Context(), redisutil.NotifyQueue).Result()
			if err == nil {
				body["queue"] = map[string]interface{}{
					"name":   redisutil.NotifyQueue,
					"length": queueLen,
				}
			}
		}
		apierror.WriteJSON(w, http.StatusOK, body)
	}
}

func main() {
	// 환경변수 로드
	// LoadConfig logs through the global logger
	logger.Init(os.Getenv("APP_ENV"))
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}
	// .env may have set APP_ENV
	logger.Init(cfg.AppEnv)

	db, err := database.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create Supabase client")
	}

	// Redis는 선택 - 없으면 in-process로 동작
	rdb := redisutil.Connect(cfg)

	generate := webhook.NewForwarder("Generate", cfg.GenerateWebhookURL, cfg.GenerateTimeout, cfg.WebhookMaxAttempts, cfg.WebhookRetryDelay)
	regenerate := webhook.NewForwarder("Regenerate", cfg.RegenerateWebhookURL, cfg.GenerateTimeout, cfg.WebhookMaxAttempts, cfg.WebhookRetryDelay)
	video := webhook.NewForwarder("Video", cfg.VideoWebhookURL, cfg.GenerateTimeout, cfg.WebhookMaxAttempts, cfg.WebhookRetryDelay)
	converter := webhook.NewForwarder("ImageConverter", cfg.ImageConverterURL, cfg.ConverterTimeout, cfg.WebhookMaxAttempts, cfg.WebhookRetryDelay)

	hub := realtime.NewHub(db)
	sinks := publisher{hub}
	if rdb != nil {
		sinks = append(sinks, redisutil.NewPublisher(rdb))
	}

	service := jobs.NewService(db, sinks, webhook.NewConverter(converter, storage.NewClient(cfg)), cfg.PublicBaseURL)

	processor := worker.NewProcessor(map[worker.Kind]worker.Sender{
		worker.KindImageGenerate:   generate,
		worker.KindImageRegenerate: regenerate,
		worker.KindVideoGenerate:   video,
	})
	processor.Attach(service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rdb != nil {
		service.UseDispatcher(worker.NewRedisDispatcher(rdb))
		// Redis Queue Worker 시작 (백그라운드)
		go worker.StartWorker(ctx, rdb, processor)
		go redisutil.SubscribeEvents(ctx, rdb, func(ev model.JobEvent) { hub.Deliver(ev) })
	} else {
		log.Warn().Msg("⚠️  Redis unavailable, notifications run in-process")
		service.UseDispatcher(worker.NewInlineDispatcher(processor))
	}

	// 정리 루틴 시작
	go hub.Run(ctx, cfg.RealtimePollInterval)

	// 라우터 설정
	r := mux.NewRouter()
	r.HandleFunc("/", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", readyCheck(db, rdb)).Methods(http.MethodGet)
	r.HandleFunc("/metrics", getMetrics(hub, rdb)).Methods(http.MethodGet)

	webhook.NewHandler(generate, regenerate, converter).RegisterRoutes(r)
	jobs.NewHandler(service, cfg.CallbackSecret).RegisterRoutes(r)
	hub.RegisterRoutes(r)

	// preflight is answered before routing so method-restricted routes still get CORS
	var handler http.Handler = auth.NewVerifier(cfg.SupabaseJWTSecret).Middleware(r)
	handler = middleware.CORS(handler)
	handler = middleware.Logger(handler)
	handler = middleware.RequestID(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Msgf("🚀 Lifestyle Studio Server starting on port %s", cfg.Port)
	log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("🛑 Shutting down server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	// 서버 시작
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
	if rdb != nil {
		rdb.Close()
	}
}
