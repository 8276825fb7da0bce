package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind tags the shape of a credential payload. Payloads arrive as loosely
// structured input from connect flows; the tagged variant pins down which
// fields are meaningful and is validated here, at the boundary, rather than
// deep in call chains.
type Kind string

const (
	// KindSupabase is a managed project addressed by URL + API keys.
	KindSupabase Kind = "supabase"
	// KindPostgres is a plain Postgres addressed by a raw connection string.
	KindPostgres Kind = "postgres"
	// KindPending is a placeholder written during the early authorization
	// handshake, before a real project exists. It carries no host and is
	// exempt from the duplicate-host check.
	KindPending Kind = "pending"
)

// ErrInvalidParams is returned when a payload fails boundary validation.
var ErrInvalidParams = errors.New("invalid connection params")

// ConnectionParams is the full set of per-tenant connection fields. Which
// fields are required depends on Kind; all are encrypted at rest.
type ConnectionParams struct {
	ProjectURL string `json:"project_url"`
	ServiceKey string `json:"service_key"`
	AnonKey    string `json:"anon_key"`
	ConnString string `json:"conn_string"`
}

type supabaseParams struct {
	ProjectURL string `validate:"required,url,startswith=https://"`
}

type postgresParams struct {
	ConnString string `validate:"required"`
}

var validate = validator.New()

// ValidateParams checks that params carry what their kind requires and that a
// host can be derived for host-bearing kinds.
func ValidateParams(kind Kind, params ConnectionParams) error {
	switch kind {
	case KindSupabase:
		if err := validate.Struct(supabaseParams{ProjectURL: params.ProjectURL}); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	case KindPostgres:
		if err := validate.Struct(postgresParams{ConnString: params.ConnString}); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	case KindPending:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidParams, kind)
	}

	host, err := DeriveHost(kind, params)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("%w: no resolvable host for kind %q", ErrInvalidParams, kind)
	}
	return nil
}

// DeriveHost extracts the physical database host used for duplicate
// detection. A pending placeholder has no host by definition.
func DeriveHost(kind Kind, params ConnectionParams) (string, error) {
	switch kind {
	case KindPending:
		return "", nil
	case KindSupabase:
		return hostFromURL(params.ProjectURL)
	case KindPostgres:
		return hostFromURL(params.ConnString)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidParams, kind)
	}
}

func hostFromURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrInvalidParams, raw, err)
	}
	return parsed.Hostname(), nil
}

// DSN returns the Postgres connection string for the tenant database. A raw
// connection string wins; otherwise a managed-project DSN is derived from the
// project URL with the service key as the database secret.
func (p ConnectionParams) DSN() (string, error) {
	if strings.TrimSpace(p.ConnString) != "" {
		return p.ConnString, nil
	}

	host, err := hostFromURL(p.ProjectURL)
	if err != nil {
		return "", err
	}
	if host == "" {
		return "", fmt.Errorf("%w: neither conn string nor project url present", ErrInvalidParams)
	}
	if p.ServiceKey == "" {
		return "", fmt.Errorf("%w: service key required to derive managed dsn", ErrInvalidParams)
	}

	return fmt.Sprintf("postgres://postgres:%s@db.%s:5432/postgres?sslmode=require",
		url.QueryEscape(p.ServiceKey), host), nil
}
