package main

import (
	"batch-exporter/api"
	"batch-exporter/service"
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2/google"
)

const defaultChunkSize = 1000

func main() {
	// Initialize structured logging (JSON format for Cloud Run)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using system environment variables")
	}

	ctx := context.Background()

	reg := prometheus.NewRegistry()
	service.RegisterMetrics(reg)

	chunkSize := envInt("EXPORT_CHUNK_SIZE", defaultChunkSize)
	outputDir := os.Getenv("EXPORT_DIR")

	// Initialize driver
	var driver service.ExportDriver
	if os.Getenv("EXPORT_DRIVER") == "BIGQUERY" {
		projectID, err := detectProjectID(ctx)
		if err != nil {
			slog.Error("Failed to determine GCP project", "error", err)
			os.Exit(1)
		}
		bqService, err := service.NewBigQueryService(ctx, projectID)
		if err != nil {
			slog.Error("Failed to initialize BigQuery service", "error", err)
			os.Exit(1)
		}
		defer bqService.Close()
		driver = service.NewBigQueryDriver(bqService, outputDir)
	} else {
		cfg, err := service.NewMySQLConfigFromEnv()
		if err != nil {
			slog.Error("Invalid MySQL configuration", "error", err)
			os.Exit(1)
		}
		myService, err := service.OpenMySQL(ctx, cfg)
		if err != nil {
			slog.Error("Failed to initialize MySQL service", "error", err)
			os.Exit(1)
		}
		defer myService.Close()
		driver = service.NewMySQLDriver(myService, outputDir)
	}

	if hook := os.Getenv("EXPORT_WEBHOOK_URL"); hook != "" {
		driver = &service.NotifyingDriver{
			Driver: driver,
			Client: service.NewHTTPClient(10 * time.Second),
			URL:    hook,
		}
	}

	// Job mode: execute once and exit (for Cloud Run Jobs)
	if os.Getenv("RUN_MODE") == "job" {
		os.Exit(runJob(ctx, driver, chunkSize))
	}

	// Release mode is better for production performance
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(driver, api.RouterConfig{
		APIKey: os.Getenv("API_KEY"),
		Handler: api.HandlerConfig{
			DefaultChunkSize: chunkSize,
			QueryDir:         os.Getenv("QUERY_DIR"),
		},
		Metrics: service.MetricsHandler(reg),
	})

	// Server setup with Graceful Shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Exports in flight get 30 seconds to finish before their contexts die.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")
}

func runJob(ctx context.Context, driver service.ExportDriver, chunkSize int) int {
	mode, err := service.ParseWriteMode(os.Getenv("JOB_WRITE_MODE"))
	if err != nil {
		slog.Error("Invalid JOB_WRITE_MODE", "error", err)
		return 1
	}
	params := service.ExportParams{
		Query:         os.Getenv("JOB_QUERY"),
		QueryFile:     os.Getenv("JOB_QUERY_FILE"),
		Params:        jobParams(os.Getenv("JOB_PARAMS")),
		Output:        os.Getenv("JOB_OUTPUT"),
		ChunkSize:     envInt("JOB_CHUNK_SIZE", chunkSize),
		Mode:          mode,
		QueryLocation: os.Getenv("JOB_QUERY_LOCATION"),
	}
	if (params.Query == "" && params.QueryFile == "") || params.Output == "" {
		slog.Error("JOB_QUERY (or JOB_QUERY_FILE) and JOB_OUTPUT are required")
		return 1
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := driver.Execute(ctx, params)
	if err != nil {
		slog.Error("Job execution failed", "error", err)
		return 1
	}
	slog.Info("Job execution completed", "path", res.Path, "chunks", res.Chunks, "rows", res.Rows, "elapsed", res.Elapsed)
	return 0
}

func detectProjectID(ctx context.Context) (string, error) {
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		return projectID, nil
	}
	slog.Info("GCP_PROJECT_ID not set, attempting to detect from credentials...")
	creds, err := google.FindDefaultCredentials(ctx, bigquery.Scope)
	if err != nil {
		return "", err
	}
	if creds.ProjectID == "" {
		return "", errProjectNotDetected
	}
	slog.Info("Detected Project ID", "project_id", creds.ProjectID)
	return creds.ProjectID, nil
}
