// Package erp is the thin call boundary to the external ERP/quoting system.
// It knows how to create a job from a mapped payload and nothing else; all
// orchestration (retries, state transitions) lives in the transaction module.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldserve_backend/platform/apperr"
	"fieldserve_backend/platform/config"
	"fieldserve_backend/platform/logger"
)

// JobCreator is the narrow contract the pipeline depends on. The
// idempotency key identifies the originating transaction so a retried
// call cannot create a second job.
type JobCreator interface {
	CreateJob(ctx context.Context, idempotencyKey string, payload map[string]string) (string, error)
}

// Client calls the external ERP over HTTP JSON.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type createJobRequest struct {
	Fields map[string]string `json:"fields"`
}

type createJobResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// NewClient creates an ERP client. Returns a configuration error when the
// base URL or API key is missing; retrying cannot fix absent credentials.
func NewClient(cfg config.ERPConfig, log *logger.Logger) (*Client, error) {
	if cfg.GetERPBaseURL() == "" {
		return nil, apperr.Configuration("ERP base URL not configured")
	}
	if cfg.GetERPAPIKey() == "" {
		return nil, apperr.Configuration("ERP API key not configured")
	}

	timeout := cfg.GetERPTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetERPBaseURL(), "/"),
		apiKey:  cfg.GetERPAPIKey(),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// CreateJob submits the mapped payload and returns the ERP job identifier.
// Failures are classified by cause: rejected payloads and bad credentials
// are terminal, everything else (timeouts, network errors, 5xx) is a
// transient dependency error the caller may retry.
func (c *Client) CreateJob(ctx context.Context, idempotencyKey string, payload map[string]string) (string, error) {
	start := time.Now()

	body, err := json.Marshal(createJobRequest{Fields: payload})
	if err != nil {
		return "", fmt.Errorf("marshal erp payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/jobs", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.ExternalCall("erp", "create_job", float64(time.Since(start).Milliseconds()), err)
		return "", apperr.Wrap(apperr.KindTransient, "erp request failed", err).WithOp("erp.CreateJob")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := classifyStatus(resp.StatusCode, summarize(respBody)).
			WithOp("erp.CreateJob").
			WithDetails(map[string]int{"statusCode": resp.StatusCode})
		c.log.ExternalCall("erp", "create_job", float64(time.Since(start).Milliseconds()), err)
		return "", err
	}

	var parsed createJobResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "erp response not parseable", err).WithOp("erp.CreateJob")
	}
	if parsed.JobID == "" {
		return "", apperr.Transient("erp response missing job id").WithOp("erp.CreateJob")
	}

	c.log.ExternalCall("erp", "create_job", float64(time.Since(start).Milliseconds()), nil)
	return parsed.JobID, nil
}

// classifyStatus maps an ERP response code to an error kind. A rejected
// payload or bad credentials never succeed on retry; everything else is a
// dependency fault the caller may try again.
func classifyStatus(code int, body string) *apperr.Error {
	msg := fmt.Sprintf("erp returned status %d: %s", code, body)
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.Validation(msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Configuration(msg)
	default:
		return apperr.Transient(msg)
	}
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200]
	}
	return text
}

// Compile-time check that Client implements JobCreator
var _ JobCreator = (*Client)(nil)
