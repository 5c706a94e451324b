package mlflow

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/pkg/api"
	"github.com/model-forge/model-forge/pkg/mlflowclient"
)

const (
	DefaultExperiment = "model-forge"

	// limits of one log-batch request
	maxParamsPerBatch  = 100
	maxMetricsPerBatch = 1000

	retryBackoff = time.Second
)

// Tracker records pipeline runs as MLflow runs. The experiment is resolved
// by name on the first run and created when it does not exist.
type Tracker struct {
	client         *mlflowclient.Client
	experimentName string
	defaultTags    map[string]string
	logger         *slog.Logger
	now            func() time.Time

	mu           sync.Mutex
	experimentID string
}

// NewMLFlowClient creates the tracking client, or nil when no tracking URI is configured.
func NewMLFlowClient(conf *config.Config, logger *slog.Logger) (*mlflowclient.Client, error) {
	if !conf.IsMLFlowConfigured() {
		logger.Warn("MLFlow tracking URI is not set, skipping MLFlow client creation")
		return nil, nil
	}
	mlflowConf := conf.MLFlow

	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsConfig, err := tlsConfigFor(mlflowConf)
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsConfig

	timeout := mlflowConf.HTTPTimeout
	if timeout <= 0 {
		timeout = mlflowclient.DefaultTimeout
	}
	client := mlflowclient.NewClient(mlflowConf.TrackingURI).
		WithHTTPClient(&http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(transport)}).
		WithLogger(logger).
		WithRetries(mlflowConf.Retries, retryBackoff)

	if mlflowConf.TokenPath != "" {
		token, err := os.ReadFile(mlflowConf.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read the MLFlow token: %w", err)
		}
		client = client.WithToken(strings.TrimSpace(string(token)))
	}
	return client, nil
}

func tlsConfigFor(conf *config.MLFlowConfig) (*tls.Config, error) {
	if conf.TLSConfig != nil {
		return conf.TLSConfig, nil
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: conf.InsecureSkipVerify, // #nosec G402 -- opt-in for self-signed tracking servers
	}
	if conf.CACertPath != "" {
		pem, err := os.ReadFile(conf.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read the MLFlow CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s", conf.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// NewTracker creates a tracker, or nil when MLflow is not configured.
func NewTracker(conf *config.Config, logger *slog.Logger) (*Tracker, error) {
	client, err := NewMLFlowClient(conf, logger)
	if err != nil || client == nil {
		return nil, err
	}
	return NewTrackerWithClient(client, conf.MLFlow.Experiment, logger).WithDefaultTags(conf.MLFlow.Tags), nil
}

func NewTrackerWithClient(client *mlflowclient.Client, experimentName string, logger *slog.Logger) *Tracker {
	if experimentName == "" {
		experimentName = DefaultExperiment
	}
	return &Tracker{
		client:         client,
		experimentName: experimentName,
		logger:         logger,
		now:            time.Now,
	}
}

// WithDefaultTags sets the tags added to every run started by the tracker.
func (t *Tracker) WithDefaultTags(tags map[string]string) *Tracker {
	t.defaultTags = tags
	return t
}

// GetExperimentID returns the id of the active experiment with the tracker's name,
// creating the experiment when needed.
func (t *Tracker) GetExperimentID(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.experimentID != "" {
		return t.experimentID, nil
	}

	client := t.client.WithContext(ctx)
	experiment, err := client.GetExperimentByName(t.experimentName)
	if err != nil && !mlflowclient.IsResourceDoesNotExistError(err) {
		return "", fmt.Errorf("failed to get the MLFlow experiment %s: %w", t.experimentName, err)
	}
	if err == nil && experiment.Experiment.LifecycleStage == mlflowclient.LifecycleStageActive && experiment.Experiment.ExperimentID != "" {
		t.logger.Info("Found active experiment", "experiment_name", t.experimentName, "experiment_id", experiment.Experiment.ExperimentID)
		t.experimentID = experiment.Experiment.ExperimentID
		return t.experimentID, nil
	}

	created, err := client.CreateExperiment(&mlflowclient.CreateExperimentRequest{Name: t.experimentName})
	if err != nil {
		return "", fmt.Errorf("failed to create the MLFlow experiment %s: %w", t.experimentName, err)
	}
	t.logger.Info("Created new experiment", "experiment_name", t.experimentName, "experiment_id", created.ExperimentID)
	t.experimentID = created.ExperimentID
	return t.experimentID, nil
}

func (t *Tracker) StartRun(ctx context.Context, runName string, tags map[string]string) (string, error) {
	experimentID, err := t.GetExperimentID(ctx)
	if err != nil {
		return "", err
	}
	resp, err := t.client.WithContext(ctx).CreateRun(&mlflowclient.CreateRunRequest{
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    t.now().UnixMilli(),
		Tags:         mlflowclient.TagsFromMap(mergeTags(t.defaultTags, tags)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create the MLFlow run %s: %w", runName, err)
	}
	t.logger.Info("Started MLFlow run", "run_name", runName, "tracking_run_id", resp.Run.Info.RunID,
		"url", t.client.RunURL(experimentID, resp.Run.Info.RunID))
	return resp.Run.Info.RunID, nil
}

func (t *Tracker) LogParams(ctx context.Context, trackingRunID string, params map[string]string) error {
	all := make([]mlflowclient.Param, 0, len(params))
	for k, v := range params {
		all = append(all, mlflowclient.Param{Key: k, Value: v})
	}
	client := t.client.WithContext(ctx)
	for start := 0; start < len(all); start += maxParamsPerBatch {
		end := min(start+maxParamsPerBatch, len(all))
		if err := client.LogBatch(&mlflowclient.LogBatchRequest{RunID: trackingRunID, Params: all[start:end]}); err != nil {
			return fmt.Errorf("failed to log params of MLFlow run %s: %w", trackingRunID, err)
		}
	}
	return nil
}

func (t *Tracker) LogMetrics(ctx context.Context, trackingRunID string, metrics map[string]float64) error {
	timestamp := t.now().UnixMilli()
	all := make([]mlflowclient.Metric, 0, len(metrics))
	for k, v := range metrics {
		all = append(all, mlflowclient.Metric{Key: k, Value: v, Timestamp: timestamp})
	}
	client := t.client.WithContext(ctx)
	for start := 0; start < len(all); start += maxMetricsPerBatch {
		end := min(start+maxMetricsPerBatch, len(all))
		if err := client.LogBatch(&mlflowclient.LogBatchRequest{RunID: trackingRunID, Metrics: all[start:end]}); err != nil {
			return fmt.Errorf("failed to log metrics of MLFlow run %s: %w", trackingRunID, err)
		}
	}
	return nil
}

func (t *Tracker) EndRun(ctx context.Context, trackingRunID string, status api.Status) error {
	_, err := t.client.WithContext(ctx).UpdateRun(&mlflowclient.UpdateRunRequest{
		RunID:   trackingRunID,
		Status:  RunStatus(status),
		EndTime: t.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to end MLFlow run %s: %w", trackingRunID, err)
	}
	return nil
}

func mergeTags(defaults, tags map[string]string) map[string]string {
	if len(defaults) == 0 {
		return tags
	}
	merged := make(map[string]string, len(defaults)+len(tags))
	maps.Copy(merged, defaults)
	maps.Copy(merged, tags)
	return merged
}

// RunStatus maps a pipeline status to the status of the tracked run
func RunStatus(status api.Status) mlflowclient.RunStatus {
	switch status {
	case api.StatusSuccess:
		return mlflowclient.RunStatusFinished
	case api.StatusFailed:
		return mlflowclient.RunStatusFailed
	case api.StatusRunning:
		return mlflowclient.RunStatusRunning
	default:
		return mlflowclient.RunStatusKilled
	}
}
