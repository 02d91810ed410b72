package main

import (
	"fmt"
	"log/slog"

	"github.com/ecomm-io/warehouse/internal/config"
	"github.com/ecomm-io/warehouse/internal/extract"
	"github.com/ecomm-io/warehouse/internal/metrics"
	"github.com/ecomm-io/warehouse/internal/pipeline"
	"github.com/ecomm-io/warehouse/internal/quality"
	"github.com/ecomm-io/warehouse/internal/storage"
	"github.com/ecomm-io/warehouse/internal/transform"
	"github.com/ecomm-io/warehouse/internal/warehouse"
)

const defaultCatalogURL = "https://dummyjson.com"

// app wires the storage layer and every pipeline component over one shared
// database connection. Commands build it, use what they need, and Close it.
type app struct {
	logger *slog.Logger
	conn   *storage.Connection

	rawStore     *storage.RawStore
	stagingStore *storage.StagingStore
	whStore      *storage.WarehouseStore
	auditStore   *storage.AuditStore
	metricsStore *storage.MetricsStore

	fileExtractor *extract.FileExtractor
	apiExtractor  *extract.APIExtractor

	orderTransformer   *transform.OrderTransformer
	eventTransformer   *transform.EventTransformer
	productTransformer *transform.ProductTransformer

	checker          *quality.Checker
	dimensionLoader  *warehouse.DimensionLoader
	factLoader       *warehouse.FactLoader
	metricsPublisher *metrics.Publisher

	kafkaPublisher *quality.KafkaPublisher
}

// newApp connects to the database and wires every component.
func newApp(logger *slog.Logger) (*app, error) {
	conn, err := storage.NewConnection(storage.LoadConfig())
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, conn: conn}

	if a.rawStore, err = storage.NewRawStore(conn); err != nil {
		return nil, err
	}

	if a.stagingStore, err = storage.NewStagingStore(conn); err != nil {
		return nil, err
	}

	if a.whStore, err = storage.NewWarehouseStore(conn); err != nil {
		return nil, err
	}

	if a.auditStore, err = storage.NewAuditStore(conn); err != nil {
		return nil, err
	}

	if a.metricsStore, err = storage.NewMetricsStore(conn); err != nil {
		return nil, err
	}

	dataDir := config.GetEnvStr("DATA_DIR", "data")
	if a.fileExtractor, err = extract.NewFileExtractor(dataDir, a.rawStore,
		extract.WithFileLogger(logger)); err != nil {
		return nil, err
	}

	catalog := extract.NewCatalogClient(
		config.GetEnvStr("CATALOG_API_URL", defaultCatalogURL),
		extract.WithCatalogLogger(logger))

	if a.apiExtractor, err = extract.NewAPIExtractor(catalog, a.rawStore,
		extract.WithAPILogger(logger)); err != nil {
		return nil, err
	}

	if a.orderTransformer, err = transform.NewOrderTransformer(a.rawStore, a.stagingStore, logger); err != nil {
		return nil, err
	}

	if a.eventTransformer, err = transform.NewEventTransformer(a.rawStore, a.stagingStore, logger); err != nil {
		return nil, err
	}

	if a.productTransformer, err = transform.NewProductTransformer(a.rawStore, a.stagingStore, logger); err != nil {
		return nil, err
	}

	thresholds, err := quality.LoadThresholds(
		config.GetEnvStr(quality.ThresholdsPathEnvVar, quality.DefaultThresholdsPath))
	if err != nil {
		return nil, err
	}

	checkerOpts := []quality.CheckerOption{quality.WithLogger(logger)}

	if brokers := config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")); len(brokers) > 0 {
		a.kafkaPublisher, err = quality.NewKafkaPublisher(brokers, quality.WithKafkaLogger(logger))
		if err != nil {
			return nil, err
		}

		checkerOpts = append(checkerOpts, quality.WithPublisher(a.kafkaPublisher))
	}

	if a.checker, err = quality.NewChecker(a.stagingStore, a.auditStore, thresholds, checkerOpts...); err != nil {
		return nil, err
	}

	if a.dimensionLoader, err = warehouse.NewDimensionLoader(a.whStore, logger); err != nil {
		return nil, err
	}

	if a.factLoader, err = warehouse.NewFactLoader(a.whStore, logger); err != nil {
		return nil, err
	}

	if a.metricsPublisher, err = metrics.NewPublisher(a.metricsStore, logger); err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases the Kafka writer (if any) and the database pool.
func (a *app) Close() {
	if a.kafkaPublisher != nil {
		if err := a.kafkaPublisher.Close(); err != nil {
			a.logger.Warn("failed to close kafka publisher", slog.String("error", err.Error()))
		}
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Warn("failed to close database connection", slog.String("error", err.Error()))
	}
}

// stages assembles the pipeline stage functions. Orders and events come from
// drop files; products fall back to the catalog API when no weekly file
// arrived.
func (a *app) stages() pipeline.Stages {
	return pipeline.Stages{
		ExtractOrders:   a.fileExtractor.ExtractOrders,
		ExtractEvents:   a.fileExtractor.ExtractEvents,
		ExtractProducts: pipeline.StageFunc(extract.Fallback(a.fileExtractor.ExtractProducts, a.apiExtractor.ExtractProducts)),

		TransformOrders:   a.orderTransformer.Run,
		TransformEvents:   a.eventTransformer.Run,
		TransformProducts: a.productTransformer.Run,

		Quality:    a.checker.Run,
		Dimensions: a.dimensionLoader.Run,
		Facts:      a.factLoader.Run,
		Metrics:    a.metricsPublisher.Publish,
	}
}

// runner builds the full pipeline runner.
func (a *app) runner() (*pipeline.Runner, error) {
	return pipeline.NewRunner(a.stages(), pipeline.WithLogger(a.logger))
}

// validateRunDate rejects malformed dates before a command opens connections.
func validateRunDate(runDate string) error {
	if _, err := warehouse.ParseRunDate(runDate); err != nil {
		return fmt.Errorf("invalid --run-date: %w", err)
	}

	return nil
}
