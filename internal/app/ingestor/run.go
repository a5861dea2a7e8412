package ingestor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medplane/medplane/internal/app/ingestor/batch"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/filesystem"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/inmemory"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/s3"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/clinical/httpclient"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/clinical/mock"
	"github.com/medplane/medplane/internal/app/ingestor/index"
	"github.com/medplane/medplane/internal/app/ingestor/pipeline"
	"github.com/medplane/medplane/internal/app/ingestor/preprocess"
	"github.com/medplane/medplane/internal/app/ingestor/retrieval"
	"github.com/medplane/medplane/internal/app/ingestor/server"
)

const (
	// Providers
	blobProviderFileSystem string = "filesystem"
	blobProviderS3         string = "s3"
	blobProviderInMemory   string = "inmemory"
)

// Run the ingestor using config. Blocks until SIGINT/SIGTERM, then drains the
// batch pool and flushes the index before returning.
func Run(config Configuration) error {
	if err := validateConfig(&config); err != nil {
		return err
	}

	logger := log.New()
	logger.Out = os.Stdout

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logger.Out = file
		} else {
			logger.Info("Failed to log to file, using default stdout")
		}
	}

	logger.Level = mapLogLevel(config.LogLevel)
	log.SetOutput(logger.Out)
	log.SetLevel(logger.Level)

	callTimeout := time.Duration(config.CallTimeoutSeconds) * time.Second

	blobProvider, err := getBlobProvider(&config)
	if err != nil {
		return err
	}
	clinicalProvider := getClinicalProvider(&config)

	plane := &dataplane.DataPlane{
		BlobProvider:     blobProvider,
		ClinicalProvider: clinicalProvider,
	}
	defer plane.Close()

	idx, err := index.Open(&index.Config{
		Dir:       filepath.Join(config.DataDir, "index"),
		CacheSize: config.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to open metadata index: %v", err)
	}
	defer idx.Close()

	pipe := pipeline.New(&pipeline.Config{
		MaxItemSize:    config.MaxItemSizeBytes,
		AllowedFormats: config.AllowedFormats,
	}, blobProvider, idx, preprocess.NewDefaultRegistry())

	manager := batch.NewManager(&batch.Config{
		Workers:           config.Workers,
		QueueCapacity:     config.QueueCapacity,
		MaxBatchTotalSize: config.MaxBatchSizeBytes,
		CallTimeout:       callTimeout,
	}, pipe)
	defer manager.Close()

	engine := retrieval.NewEngine(idx, blobProvider, clinicalProvider, config.DefaultQueryLimit)

	app := &server.App{}
	app.Setup(pipe, manager, engine, idx, blobProvider, callTimeout, logger)

	addr := fmt.Sprintf("%s:%d", config.Hostname, config.Port)
	srv := &http.Server{Addr: addr, Handler: app.Router}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("ingestor API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown failed")
	}
	return nil
}

func mapLogLevel(logLevel string) log.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

func validateConfig(c *Configuration) error {
	if c.DataDir == "" || c.Port <= 0 {
		return fmt.Errorf("Missing or invalid configuration. Use '--printconfig' to show current config on start")
	}
	switch c.BlobProvider {
	case blobProviderFileSystem, blobProviderS3, blobProviderInMemory, "":
	default:
		return fmt.Errorf("Unknown blob provider %q", c.BlobProvider)
	}
	return nil
}

func getBlobProvider(config *Configuration) (dataplane.BlobProvider, error) {
	switch config.BlobProvider {
	case blobProviderS3:
		if config.S3Provider == nil || config.S3Provider.Bucket == "" {
			return nil, fmt.Errorf("Blob provider '%s' requires a bucket name", blobProviderS3)
		}
		s3Blob, err := s3.NewBlobStorage(context.Background(), config.S3Provider)
		if err != nil {
			return nil, fmt.Errorf("Failed to establish blob storage with provider '%s', error: %+v", blobProviderS3, err)
		}
		return s3Blob, nil
	case blobProviderInMemory:
		return inmemory.NewBlobStorage(), nil
	default:
		baseDir := ""
		if config.FileSystemProvider != nil {
			baseDir = config.FileSystemProvider.BaseDir
		}
		if baseDir == "" {
			baseDir = filepath.Join(config.DataDir, "blobs")
		}
		fsBlob, err := filesystem.NewBlobStorage(&filesystem.Config{BaseDir: baseDir})
		if err != nil {
			return nil, fmt.Errorf("Failed to establish blob storage with provider '%s', error: %+v", blobProviderFileSystem, err)
		}
		return fsBlob, nil
	}
}

func getClinicalProvider(config *Configuration) dataplane.ClinicalProvider {
	c := config.ClinicalSystems
	if c == nil || (c.HISBaseURL == "" && c.EMRBaseURL == "" && c.LISBaseURL == "" && c.PACSBaseURL == "") {
		return mock.NewProvider()
	}
	return httpclient.NewClient(c)
}
