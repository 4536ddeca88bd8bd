package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrSubjectNotFound is returned when the registry holds no version of a subject.
var ErrSubjectNotFound = errors.New("schema subject not found")

// RegistryError is a non-2xx answer from Schema Registry.
type RegistryError struct {
	Status  int
	Code    int
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry: status %d (code %d): %s", e.Status, e.Code, e.Message)
}

// SchemaRegistryClient registers the JSON schemas of outbox events with Confluent Schema Registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client with a 10s request timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the id of the latest version of subject, registering schema when the
// subject does not exist yet. Other registry failures are returned as is.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	id, err := c.LatestID(ctx, subject)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrSubjectNotFound) {
		return 0, err
	}

	id, err = c.Register(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"subject": subject, "schema_id": id}).Info("registered event schema")
	return id, nil
}

// LatestID looks up the id of the latest version of subject.
func (c *SchemaRegistryClient) LatestID(ctx context.Context, subject string) (int, error) {
	return c.call(ctx, http.MethodGet, "/subjects/"+url.PathEscape(subject)+"/versions/latest", nil)
}

// Register adds schema as a new JSON schema version of subject.
func (c *SchemaRegistryClient) Register(ctx context.Context, subject string, schema string) (int, error) {
	body, err := json.Marshal(map[string]any{
		"schemaType": "JSON",
		"schema":     schema,
	})
	if err != nil {
		return 0, err
	}
	return c.call(ctx, http.MethodPost, "/subjects/"+url.PathEscape(subject)+"/versions", body)
}

func (c *SchemaRegistryClient) call(ctx context.Context, method, path string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return 0, ErrSubjectNotFound
	}
	if resp.StatusCode >= 300 {
		regErr := &RegistryError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		var payload struct {
			ErrorCode int    `json:"error_code"`
			Message   string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			regErr.Code, regErr.Message = payload.ErrorCode, payload.Message
		}
		if regErr.Message == "" {
			regErr.Message = strings.TrimSpace(string(data))
		}
		return 0, regErr
	}

	var payload struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode schema registry response: %w", err)
	}
	return payload.ID, nil
}
