package mlflowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	apiBasePath = "/api/2.0/mlflow"

	experimentsBaseURL = apiBasePath + "/experiments"
	runsBaseURL        = apiBasePath + "/runs"

	endpointExperimentsCreate    = experimentsBaseURL + "/create"
	endpointExperimentsGet       = experimentsBaseURL + "/get"
	endpointExperimentsGetByName = experimentsBaseURL + "/get-by-name"
	endpointExperimentsDelete    = experimentsBaseURL + "/delete"

	endpointRunsCreate   = runsBaseURL + "/create"
	endpointRunsGet      = runsBaseURL + "/get"
	endpointRunsUpdate   = runsBaseURL + "/update"
	endpointRunsLogBatch = runsBaseURL + "/log-batch"
	endpointRunsDelete   = runsBaseURL + "/delete"

	DefaultTimeout = 30 * time.Second
)

// Client talks to the REST API of an MLflow tracking server. The With*
// methods return copies, a Client is never modified after creation.
type Client struct {
	ctx        context.Context
	baseURL    string
	httpClient *http.Client
	authToken  string
	logger     *slog.Logger
	retries    int
	backoff    time.Duration
}

func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		ctx:     context.Background(),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.New(slog.DiscardHandler),
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	if c == nil {
		return nil
	}
	n := *c
	n.httpClient = httpClient
	return &n
}

func (c *Client) WithContext(ctx context.Context) *Client {
	if c == nil {
		return nil
	}
	n := *c
	n.ctx = ctx
	return &n
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if c == nil {
		return nil
	}
	n := *c
	n.logger = logger
	return &n
}

// WithToken sets the Authorization header. A token without a scheme is sent as a bearer token.
func (c *Client) WithToken(authToken string) *Client {
	if c == nil {
		return nil
	}
	n := *c
	n.authToken = authToken
	return &n
}

// WithRetries retries requests answered with a transient status up to
// retries times, waiting backoff times the attempt number in between.
func (c *Client) WithRetries(retries int, backoff time.Duration) *Client {
	if c == nil {
		return nil
	}
	n := *c
	n.retries = retries
	n.backoff = backoff
	return &n
}

// RunURL is the page of a run in the tracking UI
func (c *Client) RunURL(experimentID string, runID string) string {
	return fmt.Sprintf("%s/#/experiments/%s/runs/%s", c.baseURL, url.PathEscape(experimentID), url.PathEscape(runID))
}

// retryable statuses are the ones a tracking server behind a proxy returns
// while it restarts
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) newRequest(method, endpoint string, query url.Values, payload []byte) (*http.Request, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(c.ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create the %s request: %w", endpoint, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.authToken == "":
	case strings.HasPrefix(c.authToken, "Bearer "), strings.HasPrefix(c.authToken, "Basic "):
		req.Header.Set("Authorization", c.authToken)
	default:
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

// send executes one request and returns the body of a 2xx response, any
// other status becomes an *APIError
func (c *Client) send(method, endpoint string, query url.Values, payload []byte) ([]byte, error) {
	req, err := c.newRequest(method, endpoint, query, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("the %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read the %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, ResponseBody: string(respBody)}
	var mlflowError MLFlowError
	if json.Unmarshal(respBody, &mlflowError) == nil && mlflowError.ErrorCode != "" {
		apiErr.MLFlowError = &mlflowError
	}
	return nil, apiErr
}

// call sends body as JSON, or query in the URL for GET requests, retrying
// the statuses of a restarting server, and decodes the response into T.
func call[T any](c *Client, method, endpoint string, query url.Values, body any) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode the %s request: %w", endpoint, err)
		}
	}

	var respBody []byte
	var err error
	for attempt := 0; ; attempt++ {
		respBody, err = c.send(method, endpoint, query, payload)
		var apiErr *APIError
		if err == nil || attempt >= c.retries || !errors.As(err, &apiErr) || !retryable(apiErr.StatusCode) {
			break
		}
		c.logger.Debug("Retrying MLFlow request", "endpoint", endpoint, "status", apiErr.StatusCode, "attempt", attempt+1)
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		c.logger.Warn("MLFlow request failed", "method", method, "endpoint", endpoint, "error", err.Error())
		return nil, err
	}

	var response T
	if len(respBody) == 0 {
		return &response, nil
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode the %s response: %w", endpoint, err)
	}
	return &response, nil
}

// empty is the response of endpoints without a payload
type empty struct{}

// CreateExperiment creates a new experiment
func (c *Client) CreateExperiment(req *CreateExperimentRequest) (*CreateExperimentResponse, error) {
	if req == nil {
		return nil, errors.New("create experiment request is nil")
	}
	return call[CreateExperimentResponse](c, http.MethodPost, endpointExperimentsCreate, nil, req)
}

func (c *Client) GetExperiment(experimentID string) (*GetExperimentResponse, error) {
	return call[GetExperimentResponse](c, http.MethodGet, endpointExperimentsGet, url.Values{"experiment_id": {experimentID}}, nil)
}

func (c *Client) GetExperimentByName(experimentName string) (*GetExperimentResponse, error) {
	return call[GetExperimentResponse](c, http.MethodGet, endpointExperimentsGetByName, url.Values{"experiment_name": {experimentName}}, nil)
}

func (c *Client) DeleteExperiment(experimentID string) error {
	_, err := call[empty](c, http.MethodPost, endpointExperimentsDelete, nil, map[string]string{"experiment_id": experimentID})
	return err
}

// CreateRun starts a new run in an experiment
func (c *Client) CreateRun(req *CreateRunRequest) (*CreateRunResponse, error) {
	if req == nil {
		return nil, errors.New("create run request is nil")
	}
	return call[CreateRunResponse](c, http.MethodPost, endpointRunsCreate, nil, req)
}

// GetRun returns a run with its metrics, params and tags
func (c *Client) GetRun(runID string) (*GetRunResponse, error) {
	return call[GetRunResponse](c, http.MethodGet, endpointRunsGet, url.Values{"run_id": {runID}}, nil)
}

// UpdateRun sets the status and end time of a run
func (c *Client) UpdateRun(req *UpdateRunRequest) (*UpdateRunResponse, error) {
	if req == nil {
		return nil, errors.New("update run request is nil")
	}
	return call[UpdateRunResponse](c, http.MethodPost, endpointRunsUpdate, nil, req)
}

// LogBatch logs metrics, params and tags of a run in one request
func (c *Client) LogBatch(req *LogBatchRequest) error {
	if req == nil {
		return errors.New("log batch request is nil")
	}
	_, err := call[empty](c, http.MethodPost, endpointRunsLogBatch, nil, req)
	return err
}

func (c *Client) DeleteRun(runID string) error {
	_, err := call[empty](c, http.MethodPost, endpointRunsDelete, nil, map[string]string{"run_id": runID})
	return err
}
