package roboflowclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.roboflow.com"

	// exportLinkPath selects the bundle URL in the version export response
	exportLinkPath = "$.export.link"
)

// Client represents a Roboflow API client
type Client struct {
	ctx        context.Context
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a new Roboflow client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	// Ensure baseURL doesn't end with a slash
	if baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}

	return &Client{
		ctx:     context.Background(),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   5 * time.Minute,
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

func (c *Client) WithAPIKey(apiKey string) *Client {
	if c == nil {
		return nil
	}
	n := *c
	n.apiKey = apiKey
	return &n
}

// WithTimeout returns a copy whose HTTP client gives up after the timeout
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil || timeout <= 0 {
		return c
	}
	httpClient := *c.httpClient
	httpClient.Timeout = timeout
	return c.WithHTTPClient(&httpClient)
}

func (c *Client) GetBaseURL() string {
	return c.baseURL
}

// VersionURL is the export endpoint of a dataset version, without the API key
func (c *Client) VersionURL(workspace, project string, version int, format string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.baseURL, url.PathEscape(workspace), url.PathEscape(project), strconv.Itoa(version), url.PathEscape(format))
}

// GetExport asks Roboflow to prepare the export of a dataset version and returns it
func (c *Client) GetExport(workspace, project string, version int, format string) (*Export, error) {
	endpoint := c.VersionURL(workspace, project, version, format)
	respBody, err := c.doRequest(http.MethodGet, endpoint)
	if err != nil {
		return nil, err
	}

	var document any
	if err := json.Unmarshal(respBody, &document); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	link, err := jsonpath.Get(exportLinkPath, document)
	if err != nil {
		return nil, &ExportNotReadyError{Endpoint: endpoint, Reason: err.Error()}
	}
	linkStr, ok := link.(string)
	if !ok || linkStr == "" {
		return nil, &ExportNotReadyError{Endpoint: endpoint, Reason: "the export link is empty"}
	}

	export := &Export{Link: linkStr}
	if name, err := jsonpath.Get("$.version.id", document); err == nil {
		export.VersionID, _ = name.(string)
	}
	return export, nil
}

// Download streams the export bundle into w
func (c *Client) Download(export *Export, w io.Writer) (int64, error) {
	if export == nil || export.Link == "" {
		return 0, fmt.Errorf("no export to download")
	}
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, export.Link, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &APIError{StatusCode: resp.StatusCode, ResponseBody: string(body)}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download the export: %w", err)
	}
	c.logger.Info("Roboflow export downloaded", "bytes", n)
	return n, nil
}

// DownloadTo downloads the export bundle and extracts it into destDir
func (c *Client) DownloadTo(export *Export, destDir string) error {
	tmp, err := os.CreateTemp("", "roboflow-*.zip")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := c.Download(export, tmp)
	if err != nil {
		return err
	}
	return Extract(tmp, size, destDir)
}

// doRequest performs an HTTP request to the Roboflow API. The API key is sent as a
// query parameter and never logged.
func (c *Client) doRequest(method, endpoint string) ([]byte, error) {
	c.logger.Info("Roboflow request started", "method", method, "endpoint", endpoint)

	req, err := http.NewRequestWithContext(c.ctx, method, endpoint, nil)
	if err != nil {
		c.logger.Info("Roboflow request errored", "method", method, "endpoint", endpoint, "stage", "failed to create request", "error", err.Error())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("api_key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Info("Roboflow request errored", "method", method, "endpoint", endpoint, "stage", "failed to execute request", "error", redact(err, c.apiKey))
		return nil, fmt.Errorf("failed to execute request: %s", redact(err, c.apiKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Info("Roboflow request errored", "method", method, "endpoint", endpoint, "stage", "failed to read response body", "error", err.Error())
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode:   resp.StatusCode,
			ResponseBody: string(respBody),
		}
		roboflowError := RoboflowError{}
		if err := json.Unmarshal(respBody, &roboflowError); err == nil && roboflowError.Error.Message != "" {
			apiErr.RoboflowError = &roboflowError
		}
		c.logger.Info("Roboflow request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode, "response", apiErr.ResponseBody)
		return nil, apiErr
	}

	c.logger.Info("Roboflow request successful", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
	return respBody, nil
}
