// Package completion is the boundary to the external text-completion
// service. The service is untrusted: everything it returns is treated as
// text to be parsed and validated, never as instructions to execute.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/whatif/internal/errors"
)

// Request is one completion call.
type Request struct {
	Stage         string // what this call is for, used in timeout errors
	Prompt        string
	SchemaContext string // rendered table metadata the prompt is grounded on
	JSONSchema    string // response shape the service is asked to honor
}

// Response is the raw completion output.
type Response struct {
	Content string
	Model   string
}

// Client makes completion calls. Implementations must honor the context
// deadline and surface expiry as a timeout error, never a partial result.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient talks JSON over HTTP to a completion endpoint.
type HTTPClient struct {
	endpoint string
	model    string
	timeout  time.Duration
	http     *http.Client
}

// NewHTTPClient creates a client for the given endpoint. timeout bounds each
// Complete call independently of the caller's context.
func NewHTTPClient(endpoint, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		model:    model,
		timeout:  timeout,
		http:     &http.Client{},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"model":          c.model,
		"prompt":         req.Prompt,
		"schema_context": req.SchemaContext,
		"json_schema":    req.JSONSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.ErrCompletionTimeout(stage(req), c.timeout.String())
		}
		return nil, fmt.Errorf("completion call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.ErrCompletionTimeout(stage(req), c.timeout.String())
		}
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.ErrExecution(
			fmt.Sprintf("completion service returned %d", resp.StatusCode))
	}

	// The envelope is untrusted JSON. Pull out only the fields we need.
	content := gjson.GetBytes(raw, "content")
	if !content.Exists() || content.String() == "" {
		return nil, errors.ErrExecution("completion response has no content")
	}
	return &Response{
		Content: content.String(),
		Model:   gjson.GetBytes(raw, "model").String(),
	}, nil
}

// SchemaResult holds a parsed schema-constrained response.
type SchemaResult[T any] struct {
	Data T
	Raw  string
}

// ExecuteWithSchema is the only way to make schema-constrained completion
// calls. It requires a non-empty schema, parses the response strictly, and
// never falls back to a partial result on parse failure.
func ExecuteWithSchema[T any](ctx context.Context, client Client, req Request) (*SchemaResult[T], error) {
	if req.JSONSchema == "" {
		return nil, fmt.Errorf("schema is required for ExecuteWithSchema")
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content == "" {
		return nil, errors.ErrExecution("empty completion content")
	}

	var result T
	if err := json.Unmarshal([]byte(resp.Content), &result); err != nil {
		return nil, errors.ErrValidation(fmt.Sprintf(
			"completion response parse failed (content=%q): %v",
			truncateForError(resp.Content, 200), err))
	}
	return &SchemaResult[T]{Data: result, Raw: resp.Content}, nil
}

func stage(req Request) string {
	if req.Stage != "" {
		return req.Stage
	}
	return "completion"
}

func truncateForError(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "...[truncated]"
}
