package remotestore

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

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultMaxResponse = 32 << 20
	jsonContentType    = "application/json"
)

var errMissingBaseURL = errors.New("remotestore: base url is required")

// ErrDocumentTooLarge indicates that the cloud API returned a body beyond the size limit.
var ErrDocumentTooLarge = errors.New("remotestore: document too large")

// HTTPStoreConfig configures the client of the cloud profile API.
type HTTPStoreConfig struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Timeout time.Duration
	// MaxResponseBytes bounds a response body; zero selects 32 MiB.
	MaxResponseBytes int64
}

// HTTPStore is a Store that talks to the cloud profile API.
type HTTPStore struct {
	baseURL     *url.URL
	token       string
	client      *http.Client
	maxResponse int64
}

// NewHTTPStore constructs an HTTPStore. A zero timeout selects a 15 second default.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	rawURL := strings.TrimSpace(cfg.BaseURL)
	if rawURL == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remotestore: invalid base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	maxResponse := cfg.MaxResponseBytes
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponse
	}
	return &HTTPStore{baseURL: baseURL, token: strings.TrimSpace(cfg.Token), client: client, maxResponse: maxResponse}, nil
}

// Fetch implements Store.
func (store *HTTPStore) Fetch(ctx context.Context, userID vocabulary.UserID) (vocabulary.Document, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, store.documentURL(userID), http.NoBody)
	if err != nil {
		return vocabulary.Document{}, fmt.Errorf("remotestore: build fetch request: %w", err)
	}
	body, err := store.do(request)
	if err != nil {
		return vocabulary.Document{}, err
	}
	return vocabulary.DecodeDocument(body)
}

// Replace implements Store.
func (store *HTTPStore) Replace(ctx context.Context, userID vocabulary.UserID, snapshot vocabulary.Snapshot) (vocabulary.Document, error) {
	payload, err := json.Marshal(normalizeSnapshot(snapshot))
	if err != nil {
		return vocabulary.Document{}, fmt.Errorf("remotestore: encode snapshot: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, store.documentURL(userID), bytes.NewReader(payload))
	if err != nil {
		return vocabulary.Document{}, fmt.Errorf("remotestore: build replace request: %w", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	body, err := store.do(request)
	if err != nil {
		return vocabulary.Document{}, err
	}
	return vocabulary.DecodeDocument(body)
}

func (store *HTTPStore) documentURL(userID vocabulary.UserID) string {
	return store.baseURL.JoinPath("profiles", userID.String(), "document").String()
}

func (store *HTTPStore) do(request *http.Request) ([]byte, error) {
	request.Header.Set("Accept", jsonContentType)
	if store.token != "" {
		request.Header.Set("Authorization", "Bearer "+store.token)
	}
	response, err := store.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, store.maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if int64(len(body)) > store.maxResponse {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrDocumentTooLarge, store.maxResponse)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(request.Method, response.StatusCode, body)
}

func statusError(method string, status int, body []byte) error {
	detail := errorCode(body)
	switch {
	case status == http.StatusNotFound && method == http.MethodGet:
		return ErrDocumentNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d %s", ErrPermissionDenied, status, detail)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return fmt.Errorf("%w: status %d %s", ErrUnavailable, status, detail)
	default:
		return fmt.Errorf("remotestore: unexpected status %d %s", status, detail)
	}
}

func errorCode(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}
