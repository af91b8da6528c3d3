package kyc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/arzex/exchange-core/pkg/logger"
)

// IdentityVerifier is the external identity-check black box consulted for
// level-1 submissions. It answers accept or reject; any error is treated as a
// rejection by the caller.
type IdentityVerifier interface {
	Verify(ctx context.Context, accountID string, payload map[string]string) (bool, error)
}

// VerifierFunc adapts a function to the IdentityVerifier interface.
type VerifierFunc func(ctx context.Context, accountID string, payload map[string]string) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, accountID string, payload map[string]string) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f(ctx, accountID, payload)
}

// AcceptAllVerifier accepts every submission. Local development only.
type AcceptAllVerifier struct{}

func (AcceptAllVerifier) Verify(context.Context, string, map[string]string) (bool, error) {
	return true, nil
}

// HTTPVerifier posts the submission payload to an external verification
// endpoint and reads the accepted flag out of the JSON response.
type HTTPVerifier struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	resultPath string
	log        *logger.Logger
}

// NewHTTPVerifier builds a verifier against the given endpoint. resultPath is
// the gjson path of the boolean accept flag, defaulting to "accepted".
func NewHTTPVerifier(client *http.Client, endpoint, apiKey, resultPath string, log *logger.Logger) (*HTTPVerifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("verifier endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(resultPath) == "" {
		resultPath = "accepted"
	}
	if log == nil {
		log = logger.NewDefault("kyc-verifier")
	}
	return &HTTPVerifier{client: client, endpoint: endpoint, apiKey: apiKey, resultPath: resultPath, log: log}, nil
}

func (v *HTTPVerifier) Verify(ctx context.Context, accountID string, payload map[string]string) (bool, error) {
	body, err := json.Marshal(map[string]interface{}{
		"account_id": accountID,
		"payload":    payload,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}

	result := gjson.GetBytes(raw, v.resultPath)
	if !result.Exists() {
		return false, fmt.Errorf("verifier response missing %q", v.resultPath)
	}
	return result.Bool(), nil
}
