package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	contentType              = "application/json"
	errFailedToRead          = "failed to read response: %w"
	errFailedToCreateRequest = "failed to create request: %w"
	errFailedToMakeRequest   = "failed to make request: %w"
	errHTTP                  = "http status %d: %s"
	errHTTPStatus            = "http status: %d"
	headerContentType        = "Content-Type"

	DefaultTimeout = 120 * time.Second
)

//go:generate mockgen -destination=../llm/callermocks_test.go -package=llm_test github.com/kardolus/shellpilot/http Caller
type Caller interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

type Config struct {
	APIKey          string
	AuthHeader      string
	AuthTokenPrefix string
	Timeout         time.Duration
	SkipTLSVerify   bool
}

type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

type RestCaller struct {
	client *http.Client
	config Config
}

// Ensure RestCaller implements Caller interface
var _ Caller = &RestCaller{}

func New(cfg Config) *RestCaller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.SkipTLSVerify {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &RestCaller{
		client: client,
		config: cfg,
	}
}

func (r *RestCaller) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := r.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToCreateRequest, err)
	}

	response, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFailedToMakeRequest, err)
	}
	defer response.Body.Close()

	result, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToRead, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var errorData ErrorResponse
		if err := json.Unmarshal(result, &errorData); err != nil || errorData.Error.Message == "" {
			return nil, fmt.Errorf(errHTTPStatus, response.StatusCode)
		}
		return nil, fmt.Errorf(errHTTP, response.StatusCode, errorData.Error.Message)
	}
	return result, nil
}

func (r *RestCaller) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	if r.config.APIKey != "" {
		req.Header.Set(r.config.AuthHeader, r.config.AuthTokenPrefix+r.config.APIKey)
	}
	req.Header.Set(headerContentType, contentType)

	return req, nil
}
