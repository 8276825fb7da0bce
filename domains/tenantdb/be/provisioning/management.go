package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrReauthorizationRequired means the delegated token is expired or rejected
// and cannot be silently refreshed; the owner must complete a fresh
// authorization before provisioning can continue.
var ErrReauthorizationRequired = errors.New("delegated authorization expired; reauthorization required")

// ManagementAPI is the delegated project-management surface granted by the
// external authorization gateway. The pipeline treats the token as an opaque
// bearer credential with an expiry it must respect.
type ManagementAPI interface {
	// FetchServiceKey retrieves the project's service key; used
	// opportunistically, never required for provisioning to succeed.
	FetchServiceKey(ctx context.Context, token *oauth2.Token, projectRef string) (string, error)
	// ExecSQL runs a statement against the project database on the owner's
	// behalf; the fallback migration path when no direct DSN is available.
	ExecSQL(ctx context.Context, token *oauth2.Token, projectRef string, sql string) error
}

// ManagementClient talks HTTP to the project-management API.
type ManagementClient struct {
	baseURL string
	timeout time.Duration
}

// NewManagementClient constructs a client for the given API base URL.
func NewManagementClient(baseURL string, timeout time.Duration) *ManagementClient {
	if baseURL == "" {
		panic("management client requires base url")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ManagementClient{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

func (c *ManagementClient) httpClient(ctx context.Context, token *oauth2.Token) *http.Client {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	client.Timeout = c.timeout
	return client
}

type apiKey struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func (c *ManagementClient) FetchServiceKey(ctx context.Context, token *oauth2.Token, projectRef string) (string, error) {
	if !token.Valid() {
		return "", ErrReauthorizationRequired
	}

	url := fmt.Sprintf("%s/v1/projects/%s/api-keys", c.baseURL, projectRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build api-keys request: %w", err)
	}

	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch api keys: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrReauthorizationRequired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch api keys: unexpected status %d", resp.StatusCode)
	}

	var keys []apiKey
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return "", fmt.Errorf("decode api keys: %w", err)
	}
	for _, key := range keys {
		if key.Name == "service_role" {
			return key.APIKey, nil
		}
	}
	return "", errors.New("service_role key not present in response")
}

func (c *ManagementClient) ExecSQL(ctx context.Context, token *oauth2.Token, projectRef string, sql string) error {
	if !token.Valid() {
		return ErrReauthorizationRequired
	}

	payload, err := json.Marshal(map[string]string{"query": sql})
	if err != nil {
		return fmt.Errorf("marshal query payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/database/query", c.baseURL, projectRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("exec sql: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrReauthorizationRequired
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("exec sql: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ ManagementAPI = (*ManagementClient)(nil)

// managementExecutor adapts ExecSQL to the step Executor interface. The
// management API takes a single SQL string, so positional args are inlined as
// quoted literals before shipping.
type managementExecutor struct {
	api        ManagementAPI
	token      *oauth2.Token
	projectRef string
}

func (e *managementExecutor) Exec(ctx context.Context, sql string, args ...any) error {
	inlined, err := inlineArgs(sql, args)
	if err != nil {
		return err
	}
	return e.api.ExecSQL(ctx, e.token, e.projectRef, inlined)
}

// inlineArgs substitutes $1..$n placeholders with quoted literals. Only the
// scalar types our seed statements use are supported.
func inlineArgs(sql string, args []any) (string, error) {
	for i := len(args); i >= 1; i-- {
		placeholder := fmt.Sprintf("$%d", i)
		literal, err := quoteLiteral(args[i-1])
		if err != nil {
			return "", err
		}
		sql = strings.ReplaceAll(sql, placeholder, literal)
	}
	return sql, nil
}

func quoteLiteral(arg any) (string, error) {
	switch v := arg.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case fmt.Stringer:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'", nil
	case int, int32, int64:
		return fmt.Sprintf("%d", v), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	default:
		return "", fmt.Errorf("unsupported seed argument type %T", arg)
	}
}
