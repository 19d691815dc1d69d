package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// envelope is the batched JSON body posted to the ingestion endpoint.
// Trace-create and generation-create records travel in one batch.
type envelope struct {
	Batch []Event `json:"batch"`
}

// HTTPShipper posts event batches to an ingestion endpoint authenticated
// with a public/secret key pair. Delivery failure is reported to the caller
// (the queue logs it); nothing here retries.
type HTTPShipper struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client
}

// HTTPShipperConfig configures the telemetry sink transport.
type HTTPShipperConfig struct {
	Host      string
	PublicKey string
	SecretKey string
	Timeout   time.Duration
}

// NewHTTPShipper creates a shipper for the given sink.
func NewHTTPShipper(config HTTPShipperConfig) *HTTPShipper {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &HTTPShipper{
		host:      strings.TrimRight(config.Host, "/"),
		publicKey: config.PublicKey,
		secretKey: config.SecretKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Ship posts one batch.
func (s *HTTPShipper) Ship(ctx context.Context, events []Event) error {
	body, err := json.Marshal(envelope{Batch: events})
	if err != nil {
		return fmt.Errorf("telemetry: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+"/api/public/ingestion", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.publicKey, s.secretKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telemetry: sink returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
