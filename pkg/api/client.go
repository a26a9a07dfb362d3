package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/stores"
)

// Client talks to a running inspector server. It backs the CLI.
type Client struct {
	baseURL string
	actor   string
	http    *http.Client
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, actor string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// ListHosts returns every registered host.
func (c *Client) ListHosts(ctx context.Context) ([]*stores.Host, error) {
	var resp struct {
		Hosts []*stores.Host `json:"hosts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/hosts", nil, &resp)
	return resp.Hosts, err
}

// RegisterHost adds a host.
func (c *Client) RegisterHost(ctx context.Context, req RegisterHostRequest) (*stores.Host, error) {
	var host stores.Host
	if err := c.do(ctx, http.MethodPost, "/api/hosts", req, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// DeleteHost removes a host.
func (c *Client) DeleteHost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/hosts/"+url.PathEscape(id), nil, nil)
}

// DetectOS probes the operating system of a host.
func (c *Client) DetectOS(ctx context.Context, id string, cred CredentialRequest) (*stores.Host, error) {
	var host stores.Host
	if err := c.do(ctx, http.MethodPost, "/api/hosts/"+url.PathEscape(id)+"/detect", DetectOSRequest{cred}, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// ListScripts returns the catalog.
func (c *Client) ListScripts(ctx context.Context) ([]*engine.ScriptView, error) {
	var resp struct {
		Scripts []*engine.ScriptView `json:"scripts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/scripts", nil, &resp)
	return resp.Scripts, err
}

// GetScript returns one catalog entry with its sections.
func (c *Client) GetScript(ctx context.Context, id string) (*engine.ScriptView, error) {
	var view engine.ScriptView
	if err := c.do(ctx, http.MethodGet, "/api/scripts/"+url.PathEscape(id), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// UploadScript sends a script file to the catalog.
func (c *Client) UploadScript(ctx context.Context, name, description, filename string, content []byte) (*engine.ScriptView, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("name", name)
	_ = mw.WriteField("description", description)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/scripts", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var view engine.ScriptView
	if err := c.send(req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// DeleteScript removes a catalog entry.
func (c *Client) DeleteScript(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/scripts/"+url.PathEscape(id), nil, nil)
}

// StartExecution runs a script on hosts and returns the initial record.
func (c *Client) StartExecution(ctx context.Context, scriptID string, req StartExecutionRequest) (*engine.ExecutionRecord, error) {
	var rec engine.ExecutionRecord
	if err := c.do(ctx, http.MethodPost, "/api/scripts/"+url.PathEscape(scriptID)+"/executions", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetExecution returns the live record of an execution.
func (c *Client) GetExecution(ctx context.Context, id string) (*engine.ExecutionRecord, error) {
	var rec engine.ExecutionRecord
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListExecutions returns every execution, newest first.
func (c *Client) ListExecutions(ctx context.Context) ([]*engine.ExecutionRecord, error) {
	var resp struct {
		Executions []*engine.ExecutionRecord `json:"executions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/executions", nil, &resp)
	return resp.Executions, err
}

// Report downloads the CSV report of an execution.
func (c *Client) Report(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id)+"/report.csv", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.actor != "" {
		req.Header.Set(ActorHeader, c.actor)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return apiErr
}
