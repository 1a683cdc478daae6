package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/google/uuid"

	"github.com/talemon/core/config"
)

var meter metric.Meter

// MetricsProvider holds one counter group per pipeline role: scheduler,
// worker, extractor, and the Kafka side channels they share.
type MetricsProvider struct {
	SchedulerMetrics *SchedulerMetrics
	WorkerMetrics    *WorkerMetrics
	ExtractorMetrics *ExtractorMetrics
	KafkaMetrics     *KafkaMetrics
	Close            func()
}

type SchedulerMetrics struct {
	ZombiesReclaimed func(count int64)
	PagesDispatched  func(count int64)
	RateLimited      func(count int64)
}

type WorkerMetrics struct {
	CapturesAttempted func(count int64)
	CapturesSucceeded func(count int64)
	CapturesFailed    func(count int64)
	ChangesDetected   func(count int64)
	LeaseLost         func(count int64)
}

type ExtractorMetrics struct {
	ExtractionsAttempted func(count int64)
	ExtractionsSucceeded func(count int64)
	ExtractionsFailed    func(count int64)
}

type KafkaMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	enabled := cfg.Telemetry != nil && cfg.Telemetry.Enabled
	if enabled {
		r, err := newResource(ctx, cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.Telemetry)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			if err := meterProvider.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	metricsProvider.SchedulerMetrics = newSchedulerMetrics(ctx, enabled)
	metricsProvider.WorkerMetrics = newWorkerMetrics(ctx, enabled)
	metricsProvider.ExtractorMetrics = newExtractorMetrics(ctx, enabled)
	metricsProvider.KafkaMetrics = newKafkaMetrics(ctx, enabled)

	return metricsProvider
}

func newSchedulerMetrics(ctx context.Context, enabled bool) *SchedulerMetrics {
	zombies, _ := meter.Int64Counter("talemon.scheduler.zombies_reclaimed",
		metric.WithDescription("The number of leases reclaimed for stale heartbeats"),
		metric.WithUnit("{pages}"))
	dispatched, _ := meter.Int64Counter("talemon.scheduler.pages_dispatched",
		metric.WithDescription("The number of pages transitioned to PROCESSING"),
		metric.WithUnit("{pages}"))
	limited, _ := meter.Int64Counter("talemon.scheduler.rate_limited",
		metric.WithDescription("The number of candidates skipped by the domain limiter"),
		metric.WithUnit("{pages}"))

	return &SchedulerMetrics{
		ZombiesReclaimed: counterFunc(ctx, zombies, enabled),
		PagesDispatched:  counterFunc(ctx, dispatched, enabled),
		RateLimited:      counterFunc(ctx, limited, enabled),
	}
}

func newWorkerMetrics(ctx context.Context, enabled bool) *WorkerMetrics {
	attempted, _ := meter.Int64Counter("talemon.worker.captures_attempted",
		metric.WithUnit("{captures}"))
	succeeded, _ := meter.Int64Counter("talemon.worker.captures_succeeded",
		metric.WithUnit("{captures}"))
	failed, _ := meter.Int64Counter("talemon.worker.captures_failed",
		metric.WithUnit("{captures}"))
	changes, _ := meter.Int64Counter("talemon.worker.changes_detected",
		metric.WithUnit("{pages}"))
	leaseLost, _ := meter.Int64Counter("talemon.worker.lease_lost",
		metric.WithUnit("{captures}"))

	return &WorkerMetrics{
		CapturesAttempted: counterFunc(ctx, attempted, enabled),
		CapturesSucceeded: counterFunc(ctx, succeeded, enabled),
		CapturesFailed:    counterFunc(ctx, failed, enabled),
		ChangesDetected:   counterFunc(ctx, changes, enabled),
		LeaseLost:         counterFunc(ctx, leaseLost, enabled),
	}
}

func newExtractorMetrics(ctx context.Context, enabled bool) *ExtractorMetrics {
	attempted, _ := meter.Int64Counter("talemon.extractor.attempted", metric.WithUnit("{snapshots}"))
	succeeded, _ := meter.Int64Counter("talemon.extractor.succeeded", metric.WithUnit("{snapshots}"))
	failed, _ := meter.Int64Counter("talemon.extractor.failed", metric.WithUnit("{snapshots}"))

	return &ExtractorMetrics{
		ExtractionsAttempted: counterFunc(ctx, attempted, enabled),
		ExtractionsSucceeded: counterFunc(ctx, succeeded, enabled),
		ExtractionsFailed:    counterFunc(ctx, failed, enabled),
	}
}

func newKafkaMetrics(ctx context.Context, enabled bool) *KafkaMetrics {
	sendOK, _ := meter.Int64Counter("talemon.kafka.send.success", metric.WithUnit("{messages}"))
	sendFail, _ := meter.Int64Counter("talemon.kafka.send.fail", metric.WithUnit("{messages}"))
	readOK, _ := meter.Int64Counter("talemon.kafka.read.success", metric.WithUnit("{messages}"))
	readFail, _ := meter.Int64Counter("talemon.kafka.read.fail", metric.WithUnit("{messages}"))

	return &KafkaMetrics{
		SuccessfullySendMsgCnt: counterFunc(ctx, sendOK, enabled),
		FailedSendMsgCnt:       counterFunc(ctx, sendFail, enabled),
		SuccessfullyReadMsgCnt: counterFunc(ctx, readOK, enabled),
		FailedReadMsgCnt:       counterFunc(ctx, readFail, enabled),
	}
}

func counterFunc(ctx context.Context, counter metric.Int64Counter, enabled bool) func(int64) {
	return func(count int64) {
		if enabled && counter != nil {
			counter.Add(ctx, count)
		}
	}
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(ctx)
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
}
