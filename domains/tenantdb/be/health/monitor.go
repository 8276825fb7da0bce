// Package health probes tenant databases and demotes stores whose database
// has been wiped or has become unreachable. Demotion destroys the credential
// row but never the store record, so ownership and history survive and a
// later reprovision can restore service.
package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	storesvc "github.com/vendora-io/vendora-platform/domains/stores/be/service"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/router"
	"github.com/vendora-io/vendora-platform/platform/go/events"
)

// State classifies a tenant database probe.
type State string

const (
	// StateHealthy means the probe query returned a well-formed result.
	StateHealthy State = "healthy"
	// StateEmpty means the schema is gone: the database answered but the
	// expected relations do not exist.
	StateEmpty State = "empty"
	// StateUnreachable covers connection-level failures: timeouts, DNS
	// failures, refused connections, and anything unclassifiable.
	StateUnreachable State = "unreachable"
)

// Report is the outcome of one health check.
type Report struct {
	StoreID   uuid.UUID `json:"store_id"`
	State     State     `json:"state"`
	CheckedAt time.Time `json:"checked_at"`
	Detail    string    `json:"detail,omitempty"`
	// Demoted is set when this check pushed the store back to
	// pending_database and deleted its credentials.
	Demoted bool `json:"demoted"`
}

// ConnectionSource resolves store ids to clients and evicts cache entries;
// implemented by the connection router.
type ConnectionSource interface {
	GetConnection(ctx context.Context, storeID uuid.UUID) (router.Client, error)
	Invalidate(storeID uuid.UUID)
}

// StoreDirectory is the slice of the store registry the monitor drives.
type StoreDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (storesvc.Store, error)
	SetStatus(ctx context.Context, id uuid.UUID, to storesvc.Status) (storesvc.Store, error)
}

// CredentialRemover deletes a store's credential row; implemented by the
// credential store.
type CredentialRemover interface {
	Delete(ctx context.Context, storeID uuid.UUID) error
}

// Config tunes monitor behavior.
type Config struct {
	// ProbeTimeout bounds the probe query; zero uses a default. An
	// unreachable database must fail the check, not hang it.
	ProbeTimeout time.Duration
}

const defaultProbeTimeout = 5 * time.Second

// probeSQL touches the smallest relation every provisioned tenant has. A
// zero-row result is still healthy; what matters is that the relation exists.
const probeSQL = "SELECT id FROM users LIMIT 1"

// Monitor performs on-demand health checks and the demotion path.
type Monitor struct {
	conns     ConnectionSource
	stores    StoreDirectory
	creds     CredentialRemover
	publisher events.Publisher
	logger    *zap.Logger

	probeTimeout time.Duration
}

// New constructs a Monitor with required dependencies.
func New(conns ConnectionSource, stores StoreDirectory, creds CredentialRemover, publisher events.Publisher, cfg Config, logger *zap.Logger) *Monitor {
	if conns == nil {
		panic("monitor requires a connection source")
	}
	if stores == nil {
		panic("monitor requires a store directory")
	}
	if creds == nil {
		panic("monitor requires a credential remover")
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		conns:        conns,
		stores:       stores,
		creds:        creds,
		publisher:    publisher,
		logger:       logger,
		probeTimeout: cfg.ProbeTimeout,
	}
}

// CheckHealth probes the store's tenant database and, on empty or
// unreachable, demotes the store: status back to pending_database, credential
// row deleted, cache entry evicted. A store with no credentials surfaces
// router.ErrNotProvisioned unchanged; there is nothing to probe.
//
// The probe never lets a failure escape as anything but a classification:
// panics and unknown errors count as unreachable, favoring a safe demotion
// over a silently broken store.
func (m *Monitor) CheckHealth(ctx context.Context, storeID uuid.UUID) (Report, error) {
	report := Report{StoreID: storeID, CheckedAt: time.Now().UTC()}

	if _, err := m.stores.Get(ctx, storeID); err != nil {
		return report, err
	}

	state, detail := m.probe(ctx, storeID)
	if errors.Is(detail, router.ErrNotProvisioned) {
		return report, router.ErrNotProvisioned
	}

	report.State = state
	if detail != nil {
		report.Detail = detail.Error()
	}
	checksTotal.WithLabelValues(string(state)).Inc()

	if state == StateHealthy {
		return report, nil
	}

	if err := m.demote(ctx, storeID, state); err != nil {
		return report, fmt.Errorf("demote store: %w", err)
	}
	report.Demoted = true
	return report, nil
}

// probe resolves a client and runs the existence query, translating every
// possible failure into a state.
func (m *Monitor) probe(ctx context.Context, storeID uuid.UUID) (state State, detail error) {
	defer func() {
		if r := recover(); r != nil {
			state = StateUnreachable
			detail = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	timeout := m.probeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := m.conns.GetConnection(probeCtx, storeID)
	if err != nil {
		return StateUnreachable, err
	}

	if err := client.Exec(probeCtx, probeSQL); err != nil {
		return classify(err), err
	}
	return StateHealthy, nil
}

// demote pushes the store back to pending_database, deletes its credential
// row and evicts the cached client. The order matters: the status flip first,
// so a crash mid-demotion leaves a store that the next check can finish
// demoting rather than an active store with no credentials.
func (m *Monitor) demote(ctx context.Context, storeID uuid.UUID, state State) error {
	if _, err := m.stores.SetStatus(ctx, storeID, storesvc.StatusPendingDatabase); err != nil {
		return err
	}
	if err := m.creds.Delete(ctx, storeID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	m.conns.Invalidate(storeID)

	m.logger.Warn("store demoted to pending_database",
		zap.String("store_id", storeID.String()),
		zap.String("state", string(state)),
	)
	demotionsTotal.WithLabelValues(string(state)).Inc()

	event := events.Event{
		Type:    events.TypeStoreDemoted,
		StoreID: storeID,
		At:      time.Now().UTC(),
		Detail:  string(state),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("event publish failed",
			zap.String("store_id", storeID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// classify maps a probe failure to empty or unreachable. Missing relations
// and missing schemas mean the tenant schema was dropped; everything else is
// treated as a reachability problem.
func classify(err error) State {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "3F000": // undefined_table, invalid_schema_name
			return StateEmpty
		}
		return StateUnreachable
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "schema cache") {
		return StateEmpty
	}
	return StateUnreachable
}
