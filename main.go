package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/snapshot-recognizer/internal/annotate"
	"github.com/example/snapshot-recognizer/internal/auth"
	"github.com/example/snapshot-recognizer/internal/config"
	"github.com/example/snapshot-recognizer/internal/grpcclient"
	"github.com/example/snapshot-recognizer/internal/handlers"
	"github.com/example/snapshot-recognizer/internal/imagestore"
	"github.com/example/snapshot-recognizer/internal/logging"
	"github.com/example/snapshot-recognizer/internal/metrics"
	"github.com/example/snapshot-recognizer/internal/ocr"
	"github.com/example/snapshot-recognizer/internal/recognition"
	"github.com/example/snapshot-recognizer/internal/repository"
	"github.com/example/snapshot-recognizer/internal/usecase"
	"github.com/example/snapshot-recognizer/internal/vision"
	"github.com/example/snapshot-recognizer/internal/vision/azure"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewRecognitionRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	client, closer, err := initVision(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up vision backend", zap.String("backend", cfg.VisionBackend), zap.Error(err))
	}
	defer closer.Close()

	store, err := initImageStore(cfg)
	if err != nil {
		logger.Fatal("failed to set up image store", zap.String("store", cfg.ImageStore), zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := metrics.New(registry)

	poller := ocr.NewPoller(client, ocr.Policy{
		Interval:    cfg.OCRPollInterval,
		MaxAttempts: cfg.OCRMaxAttempts,
		Timeout:     cfg.OCRTimeout,
	}, logger, ocr.WithObserver(observer))
	renderer := annotate.NewRenderer(client, store, logger, observer)
	pipeline := recognition.NewPipeline(client, poller, renderer, client, recognition.Config{
		GalleryID:         cfg.FaceGalleryID,
		IdentityThreshold: cfg.IdentityThreshold,
	}, logger, observer)

	cache := usecase.NewRedisCache(redisClient, "snapshot")
	uc := usecase.NewRecognitionUseCase(repo, cache, pipeline, store, cfg.WorkDir, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(auth.Config{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})

	handlers.RegisterRoutes(r, uc, authMiddleware)
	handlers.RegisterMetrics(r, registry)
	if fs, ok := store.(*imagestore.FilesystemStore); ok {
		handlers.RegisterMedia(r, fs.Dir())
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("snapshot recognizer listening", zap.String("addr", cfg.HTTPAddr),
		zap.String("vision_backend", cfg.VisionBackend), zap.String("image_store", cfg.ImageStore))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// initVision returns the configured vision backend and a closer for its transport.
func initVision(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vision.Client, io.Closer, error) {
	switch cfg.VisionBackend {
	case config.VisionBackendGRPC:
		gateway, conn, err := grpcclient.DialVisionGateway(ctx, cfg.VisionGatewayAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return gateway, conn, nil
	case config.VisionBackendAzure:
		client, err := azure.NewClient(azure.Config{
			VisionEndpoint: cfg.AzureVisionEndpoint,
			VisionKey:      cfg.AzureVisionKey,
			FaceEndpoint:   cfg.AzureFaceEndpoint,
			FaceKey:        cfg.AzureFaceKey,
		}, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return client, nopCloser{}, nil
	default:
		return nil, nil, errors.New("unknown vision backend " + cfg.VisionBackend)
	}
}

func initImageStore(cfg *config.Config) (imagestore.Store, error) {
	if cfg.ImageStore == config.ImageStoreFilesystem {
		return imagestore.NewFilesystemStore(cfg.MediaDir, cfg.MediaBaseURL)
	}
	return imagestore.NewImgurStore(imagestore.ImgurConfig{
		ClientID:    cfg.ImgurClientID,
		AccessToken: cfg.ImgurAccessToken,
	}, &http.Client{Timeout: 60 * time.Second})
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
