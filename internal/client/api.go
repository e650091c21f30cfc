package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/protocol"
)

// StatusAPI is the HTTP surface the controller consumes.
type StatusAPI interface {
	Status(ctx context.Context, surveyID string) (*protocol.StatusResponse, error)
	Submit(ctx context.Context, surveyID string, req protocol.SubmitRequest) (*protocol.SubmitResponse, error)
}

type HTTPAPI struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPAPI) Status(ctx context.Context, surveyID string) (*protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	if err := a.do(ctx, http.MethodGet, "/api/survey/"+url.PathEscape(surveyID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	if out.SurveyID == "" {
		out.SurveyID = surveyID
	}
	return &out, nil
}

func (a *HTTPAPI) Submit(ctx context.Context, surveyID string, req protocol.SubmitRequest) (*protocol.SubmitResponse, error) {
	var out protocol.SubmitResponse
	if err := a.do(ctx, http.MethodPost, "/api/survey/"+url.PathEscape(surveyID)+"/submit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return failureFromResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func failureFromResponse(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &Failure{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode, Message: body.Error}
}

func kindForStatus(code int) FailureKind {
	switch code {
	case http.StatusUnauthorized:
		return FailureUnauthorized
	case http.StatusForbidden:
		return FailureForbidden
	case http.StatusNotFound:
		return FailureNotFound
	case http.StatusConflict:
		return FailureConflict
	case http.StatusBadRequest:
		return FailureInvalid
	default:
		return FailureTransport
	}
}
