// Package provisioning drives a store's tenant database from
// pending_database to active: validate the owner's connection payload, run
// the ordered schema and seed steps, persist encrypted credentials and flip
// the store live. Every step is idempotent, so a run that dies halfway can be
// repeated without damage.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	storesvc "github.com/vendora-io/vendora-platform/domains/stores/be/service"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/credentials"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/router"
	"github.com/vendora-io/vendora-platform/platform/go/events"
)

// Errors returned by the pipeline.
var (
	// ErrAlreadyConnected means the store is not awaiting a database: it is
	// already active, mid-provisioning, or suspended.
	ErrAlreadyConnected = errors.New("store already has a connected database")
	// ErrInvalidCredentials means the payload authenticated against nothing:
	// the probe connection was rejected before any state was mutated.
	ErrInvalidCredentials = errors.New("tenant database rejected the provided credentials")
)

// StoreDirectory is the slice of the store registry the pipeline drives.
type StoreDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (storesvc.Store, error)
	SetStatus(ctx context.Context, id uuid.UUID, to storesvc.Status) (storesvc.Store, error)
}

// CredentialVault is the slice of the credential store the pipeline uses.
type CredentialVault interface {
	Save(ctx context.Context, storeID uuid.UUID, kind credentials.Kind, params credentials.ConnectionParams) (credentials.TenantCredential, error)
	FindByStore(ctx context.Context, storeID uuid.UUID) (*credentials.TenantCredential, error)
	CheckHostInUse(ctx context.Context, host string, excludingStoreID uuid.UUID) (bool, error)
	Delete(ctx context.Context, storeID uuid.UUID) error
}

// CacheInvalidator evicts a store's cached tenant client after credentials
// change; implemented by the connection router.
type CacheInvalidator interface {
	Invalidate(storeID uuid.UUID)
}

// Config tunes pipeline behavior.
type Config struct {
	// ProbeTimeout bounds the credential validation connection; zero uses a
	// default.
	ProbeTimeout time.Duration
	// Steps overrides the default setup sequence; nil uses DefaultSteps.
	Steps []Step
}

const defaultProbeTimeout = 10 * time.Second

// Pipeline orchestrates connect and reprovision runs.
type Pipeline struct {
	stores    StoreDirectory
	vault     CredentialVault
	factory   router.ClientFactory
	cache     CacheInvalidator
	mgmt      ManagementAPI
	publisher events.Publisher
	logger    *zap.Logger

	steps        []Step
	probeTimeout time.Duration
}

// New constructs a Pipeline. The management API is optional; without it the
// delegated migration path and key discovery are disabled.
func New(stores StoreDirectory, vault CredentialVault, factory router.ClientFactory, cache CacheInvalidator, mgmt ManagementAPI, publisher events.Publisher, cfg Config, logger *zap.Logger) *Pipeline {
	if stores == nil {
		panic("pipeline requires a store directory")
	}
	if vault == nil {
		panic("pipeline requires a credential vault")
	}
	if factory == nil {
		panic("pipeline requires a client factory")
	}
	if cache == nil {
		panic("pipeline requires a cache invalidator")
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	steps := cfg.Steps
	if steps == nil {
		steps = DefaultSteps()
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Pipeline{
		stores:       stores,
		vault:        vault,
		factory:      factory,
		cache:        cache,
		mgmt:         mgmt,
		publisher:    publisher,
		logger:       logger,
		steps:        steps,
		probeTimeout: probeTimeout,
	}
}

// ConnectInput is the owner's connect-database request.
type ConnectInput struct {
	StoreID uuid.UUID
	Kind    credentials.Kind
	Params  credentials.ConnectionParams
	// Token is the delegated authorization, when the connect flow went
	// through the gateway. Optional for raw Postgres payloads.
	Token *oauth2.Token
	// ProjectRef addresses the managed project on the management API; derived
	// from the project URL when empty.
	ProjectRef string
	AdminEmail string
	AdminName  string
}

// ReprovisionInput is a reprovision request for an already-known store.
type ReprovisionInput struct {
	StoreID    uuid.UUID
	Token      *oauth2.Token
	ProjectRef string
	AdminEmail string
	AdminName  string
}

// Run is the durable record of one pipeline execution.
type Run struct {
	StoreID    uuid.UUID    `json:"store_id"`
	Op         string       `json:"op"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`
	Activated  bool         `json:"activated"`
}

// ConnectDatabase attaches a tenant database to a store awaiting one. The
// payload is validated and probed before any state changes; only then does
// the store enter provisioning, run the setup steps, get its credentials
// saved and go active. Any failure after the transition reverts the store to
// pending_database so it is never left stuck in provisioning.
func (p *Pipeline) ConnectDatabase(ctx context.Context, input ConnectInput) (Run, error) {
	run := Run{StoreID: input.StoreID, Op: "connect", StartedAt: time.Now().UTC()}

	store, err := p.stores.Get(ctx, input.StoreID)
	if err != nil {
		return p.finish(run, err)
	}
	if store.Status != storesvc.StatusPendingDatabase {
		return p.finish(run, fmt.Errorf("%w: status %s", ErrAlreadyConnected, store.Status))
	}

	params := input.Params
	projectRef := p.projectRef(input.ProjectRef, params)

	// Opportunistic key discovery. A miss is logged and forgotten: the store
	// can still activate with the key field empty.
	if input.Kind == credentials.KindSupabase && params.ServiceKey == "" && p.mgmt != nil && input.Token.Valid() && projectRef != "" {
		key, err := p.mgmt.FetchServiceKey(ctx, input.Token, projectRef)
		if err != nil {
			p.logger.Warn("service key discovery failed",
				zap.String("store_id", input.StoreID.String()),
				zap.Error(err),
			)
		} else {
			params.ServiceKey = key
		}
	}

	if err := credentials.ValidateParams(input.Kind, params); err != nil {
		return p.finish(run, err)
	}

	ex, closeEx, err := p.executor(ctx, input.StoreID, input.Kind, params, input.Token, projectRef)
	if err != nil {
		return p.finish(run, err)
	}
	defer closeEx()

	host, err := credentials.DeriveHost(input.Kind, params)
	if err != nil {
		return p.finish(run, err)
	}
	if host != "" {
		inUse, err := p.vault.CheckHostInUse(ctx, host, input.StoreID)
		if err != nil {
			return p.finish(run, fmt.Errorf("check host in use: %w", err))
		}
		if inUse {
			return p.finish(run, credentials.ErrDatabaseInUse)
		}
	}

	if _, err := p.stores.SetStatus(ctx, input.StoreID, storesvc.StatusProvisioning); err != nil {
		return p.finish(run, fmt.Errorf("enter provisioning: %w", err))
	}

	seed := Seed{AdminEmail: input.AdminEmail, AdminName: input.AdminName}
	run.Steps, err = runSteps(ctx, ex, seed, p.steps)
	if err != nil {
		p.revert(ctx, input.StoreID, run.Steps)
		return p.finish(run, err)
	}

	// The duplicate-host check repeats atomically inside the save, so a race
	// between two connects of the same host loses here, not silently.
	if _, err := p.vault.Save(ctx, input.StoreID, input.Kind, params); err != nil {
		p.revert(ctx, input.StoreID, nil)
		return p.finish(run, fmt.Errorf("save credentials: %w", err))
	}

	if _, err := p.stores.SetStatus(ctx, input.StoreID, storesvc.StatusActive); err != nil {
		p.revert(ctx, input.StoreID, nil)
		return p.finish(run, fmt.Errorf("activate store: %w", err))
	}
	run.Activated = true

	p.cache.Invalidate(input.StoreID)
	p.publish(ctx, events.TypeStoreActivated, input.StoreID, "database connected")

	if params.ServiceKey == "" && input.Kind == credentials.KindSupabase {
		p.logger.Warn("store activated without a service key; runtime access limited until one is saved",
			zap.String("store_id", input.StoreID.String()),
		)
	}

	return p.finish(run, nil)
}

// Reprovision re-runs the setup steps for a store demoted back to
// pending_database. It fails closed: an expired or missing delegated token
// returns ErrReauthorizationRequired before anything is touched.
func (p *Pipeline) Reprovision(ctx context.Context, input ReprovisionInput) (Run, error) {
	run := Run{StoreID: input.StoreID, Op: "reprovision", StartedAt: time.Now().UTC()}

	if !input.Token.Valid() {
		return p.finish(run, ErrReauthorizationRequired)
	}

	store, err := p.stores.Get(ctx, input.StoreID)
	if err != nil {
		return p.finish(run, err)
	}
	if store.Status != storesvc.StatusPendingDatabase {
		return p.finish(run, fmt.Errorf("%w: status %s", ErrAlreadyConnected, store.Status))
	}

	cred, err := p.vault.FindByStore(ctx, input.StoreID)
	if err != nil {
		return p.finish(run, fmt.Errorf("lookup credentials: %w", err))
	}
	if cred == nil {
		return p.finish(run, router.ErrNotProvisioned)
	}

	projectRef := p.projectRef(input.ProjectRef, cred.Params)

	ex, closeEx, err := p.executor(ctx, input.StoreID, cred.Kind, cred.Params, input.Token, projectRef)
	if err != nil {
		return p.finish(run, err)
	}
	defer closeEx()

	if _, err := p.stores.SetStatus(ctx, input.StoreID, storesvc.StatusProvisioning); err != nil {
		return p.finish(run, fmt.Errorf("enter provisioning: %w", err))
	}

	seed := Seed{AdminEmail: input.AdminEmail, AdminName: input.AdminName}
	run.Steps, err = runSteps(ctx, ex, seed, p.steps)
	if err != nil {
		// Existing credentials stay put: they worked before and the failure
		// may be transient.
		p.revert(ctx, input.StoreID, run.Steps)
		return p.finish(run, err)
	}

	if _, err := p.stores.SetStatus(ctx, input.StoreID, storesvc.StatusActive); err != nil {
		p.revert(ctx, input.StoreID, nil)
		return p.finish(run, fmt.Errorf("activate store: %w", err))
	}
	run.Activated = true

	p.cache.Invalidate(input.StoreID)
	p.publish(ctx, events.TypeStoreActivated, input.StoreID, "database reprovisioned")

	return p.finish(run, nil)
}

// executor picks how setup SQL reaches the tenant database: a direct pgx
// client when a DSN is derivable, otherwise the delegated management path.
// The direct path doubles as the credential probe; an authentication
// rejection surfaces as ErrInvalidCredentials before any state is mutated.
func (p *Pipeline) executor(ctx context.Context, storeID uuid.UUID, kind credentials.Kind, params credentials.ConnectionParams, token *oauth2.Token, projectRef string) (Executor, func(), error) {
	noop := func() {}

	if dsn, err := params.DSN(); err == nil && dsn != "" {
		probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
		defer cancel()

		client, err := p.factory.Connect(probeCtx, credentials.TenantCredential{StoreID: storeID, Kind: kind, Params: params})
		if err != nil {
			if isAuthError(err) {
				return nil, noop, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
			}
			return nil, noop, fmt.Errorf("%w: %v", router.ErrConnectionFailed, err)
		}
		return client, client.Close, nil
	}

	if p.mgmt != nil && token.Valid() && projectRef != "" {
		ex := &managementExecutor{api: p.mgmt, token: token, projectRef: projectRef}
		// Probe the delegated path the same way the direct path pings.
		if err := ex.Exec(ctx, "SELECT 1"); err != nil {
			if errors.Is(err, ErrReauthorizationRequired) {
				return nil, noop, err
			}
			return nil, noop, fmt.Errorf("%w: %v", router.ErrConnectionFailed, err)
		}
		return ex, noop, nil
	}

	return nil, noop, fmt.Errorf("%w: no usable connection path (need a conn string, a service key, or a valid delegated token)", credentials.ErrInvalidParams)
}

func (p *Pipeline) projectRef(explicit string, params credentials.ConnectionParams) string {
	if explicit != "" {
		return explicit
	}
	host, err := credentials.DeriveHost(credentials.KindSupabase, params)
	if err != nil || host == "" {
		return ""
	}
	// Managed hosts look like <ref>.<provider-domain>; the first label is the
	// project reference.
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return ""
}

// revert returns the store to pending_database after a failed run. Best
// effort: a revert failure is logged loudly, since a store stuck in
// provisioning needs operator attention.
func (p *Pipeline) revert(ctx context.Context, storeID uuid.UUID, steps []StepResult) {
	if len(steps) > 0 {
		last := steps[len(steps)-1]
		if last.Err != "" {
			stepFailures.WithLabelValues(last.Name).Inc()
		}
	}
	if _, err := p.stores.SetStatus(ctx, storeID, storesvc.StatusPendingDatabase); err != nil {
		p.logger.Error("failed to revert store to pending_database",
			zap.String("store_id", storeID.String()),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) publish(ctx context.Context, eventType string, storeID uuid.UUID, detail string) {
	event := events.Event{Type: eventType, StoreID: storeID, At: time.Now().UTC(), Detail: detail}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("type", eventType),
			zap.String("store_id", storeID.String()),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) finish(run Run, err error) (Run, error) {
	run.FinishedAt = time.Now().UTC()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(run.Op, outcome).Inc()

	if err != nil {
		p.logger.Warn("provisioning run failed",
			zap.String("op", run.Op),
			zap.String("store_id", run.StoreID.String()),
			zap.Error(err),
		)
		return run, err
	}
	p.logger.Info("provisioning run succeeded",
		zap.String("op", run.Op),
		zap.String("store_id", run.StoreID.String()),
		zap.Int("steps", len(run.Steps)),
	)
	return run, nil
}

// isAuthError reports whether a connection failure is an authentication
// rejection rather than a reachability problem. Postgres class 28 covers
// invalid authorization and bad passwords.
func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "28")
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password authentication failed") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "sasl")
}
