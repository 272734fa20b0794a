// Package deployment is C8, the Deployment State Machine: the lifecycle of
// one DeploymentRecord from PendingPayment through to a terminal state
// (spec.md §4.8). It is reimplemented here as an explicit, persisted state
// machine rather than the coroutine/await style the original likely used
// (spec.md's REDESIGN FLAGS) — every transition is written before any
// outbound call, so a crash or a concurrent reconciliation tick always finds
// a reconcilable waypoint, never a torn one.
package deployment

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp-strategies/factory/internal/account"
	"github.com/warp-strategies/factory/internal/containerport"
	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/images"
	"github.com/warp-strategies/factory/internal/platform/clock"
	"github.com/warp-strategies/factory/internal/platform/ferrors"
	"github.com/warp-strategies/factory/internal/platform/metrics"
	"github.com/warp-strategies/factory/internal/registry"
	"github.com/warp-strategies/factory/internal/store"
)

const (
	collDeployments    = "deployments"
	collDeploysByOwner = "deployments_by_owner"
)

// Machine implements C8. One Machine serves every DeploymentRecord in the
// Factory instance; per-record advisory locks (spec.md §5) keep unrelated
// deployments from blocking each other while serializing any concurrent
// attempt to advance the same record.
type Machine struct {
	store      *store.Store
	clock      clock.Clock
	ledger     *account.Ledger
	images     *images.Registry
	registry   *registry.Registry
	containers containerport.Port
	cfg        Config
	Logger     func(format string, args ...any)
	Metrics    *metrics.Metrics

	feeMu sync.RWMutex
	fee   int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(st *store.Store, clk clock.Clock, ledger *account.Ledger, imgs *images.Registry, reg *registry.Registry, containers containerport.Port, cfg Config, defaultFee int64) *Machine {
	return &Machine{
		store:      st,
		clock:      clk,
		ledger:     ledger,
		images:     imgs,
		registry:   reg,
		containers: containers,
		cfg:        cfg,
		fee:        defaultFee,
		locks:      make(map[string]*sync.Mutex),
		Logger:     func(string, ...any) {},
	}
}

func (m *Machine) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}
	return m.clock.Now().UTC()
}

func (m *Machine) lockDeployment(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// SetFee updates the single scalar fee new deployment requests are charged.
// In-flight DeploymentRecords keep the fee_amount they were created with.
func (m *Machine) SetFee(amount int64) {
	m.feeMu.Lock()
	defer m.feeMu.Unlock()
	m.fee = amount
}

// Fee returns the currently configured deployment fee.
func (m *Machine) Fee() int64 {
	m.feeMu.RLock()
	defer m.feeMu.RUnlock()
	return m.fee
}

func (m *Machine) persist(ctx context.Context, rec *domain.DeploymentRecord) error {
	return m.store.Put(ctx, collDeployments, rec.DeploymentID, *rec)
}

// RequestDeployment implements C10's shared per-strategy-kind request
// template steps 3-6: mint an id, debit the fee, persist the initial
// record, and attempt one immediate advance best-effort.
func (m *Machine) RequestDeployment(ctx context.Context, owner, strategyKind string, configBlob []byte) (domain.DeploymentRecord, error) {
	fee := m.Fee()
	now := m.now()
	rec := domain.DeploymentRecord{
		DeploymentID:   uuid.NewString(),
		Owner:          owner,
		StrategyKind:   strategyKind,
		FeeAmount:      fee,
		RequestTime:    now,
		LastUpdateTime: now,
		Status:         domain.StatusPendingPayment,
		ConfigBlob:     configBlob,
	}
	if err := m.persist(ctx, &rec); err != nil {
		return domain.DeploymentRecord{}, err
	}
	if err := m.indexByOwner(ctx, owner, rec.DeploymentID); err != nil {
		return domain.DeploymentRecord{}, err
	}

	// Ordering rule 1: fee debited before any external side effect; no
	// state beyond PendingPayment is ever written if this fails.
	if _, err := m.ledger.DebitFee(ctx, owner, fee, rec.DeploymentID); err != nil {
		rec.Status = domain.StatusDeploymentCancelled
		rec.ErrorMessage = err.Error()
		rec.LastUpdateTime = m.now()
		if perr := m.persist(ctx, &rec); perr != nil {
			return domain.DeploymentRecord{}, perr
		}
		return rec, ferrors.New(ferrors.InsufficientBal, "deployment fee debit failed: %v", err)
	}

	rec.Status = domain.StatusPaymentReceived
	rec.LastUpdateTime = m.now()
	if err := m.persist(ctx, &rec); err != nil {
		return domain.DeploymentRecord{}, err
	}

	// Best-effort immediate advance; reconciliation drives it regardless.
	if err := m.Advance(ctx, rec.DeploymentID); err != nil {
		m.Logger("deployment %s: immediate advance failed: %v", rec.DeploymentID, err)
	}

	var final domain.DeploymentRecord
	if _, err := m.store.Get(ctx, collDeployments, rec.DeploymentID, &final); err != nil {
		return domain.DeploymentRecord{}, err
	}
	return final, nil
}

func (m *Machine) indexByOwner(ctx context.Context, owner, id string) error {
	var ids []string
	if _, err := m.store.Get(ctx, collDeploysByOwner, owner, &ids); err != nil {
		return err
	}
	ids = append(ids, id)
	return m.store.Put(ctx, collDeploysByOwner, owner, ids)
}

// Get returns the DeploymentRecord for id.
func (m *Machine) Get(ctx context.Context, id string) (domain.DeploymentRecord, error) {
	var rec domain.DeploymentRecord
	found, err := m.store.Get(ctx, collDeployments, id, &rec)
	if err != nil {
		return domain.DeploymentRecord{}, err
	}
	if !found {
		return domain.DeploymentRecord{}, ferrors.New(ferrors.NotFound, "no deployment %q", id)
	}
	return rec, nil
}

// ByOwner returns every DeploymentRecord requested by owner.
func (m *Machine) ByOwner(ctx context.Context, owner string) ([]domain.DeploymentRecord, error) {
	var ids []string
	if _, err := m.store.Get(ctx, collDeploysByOwner, owner, &ids); err != nil {
		return nil, err
	}
	out := make([]domain.DeploymentRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// All returns every DeploymentRecord in the Factory (admin use).
func (m *Machine) All(ctx context.Context) ([]domain.DeploymentRecord, error) {
	var out []domain.DeploymentRecord
	err := m.store.Scan(ctx, collDeployments, func(_ string, raw []byte) error {
		var rec domain.DeploymentRecord
		if err := unmarshalRecord(raw, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// NonTerminal returns every non-terminal DeploymentRecord, ascending by
// last_update_time — the order C9's tick must process them in.
func (m *Machine) NonTerminal(ctx context.Context) ([]domain.DeploymentRecord, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if !rec.Status.Terminal() {
			out = append(out, rec)
		}
	}
	sortByLastUpdate(out)
	return out, nil
}

// StatusCounts returns the current count of DeploymentRecords per status,
// for publishing as a gauge snapshot (internal/platform/metrics).
func (m *Machine) StatusCounts(ctx context.Context) (map[string]int, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range all {
		counts[string(rec.Status)]++
	}
	return counts, nil
}

func sortByLastUpdate(recs []domain.DeploymentRecord) {
	for i := 1; i < len(recs); i++ {
		j := i
		for j > 0 && recs[j-1].LastUpdateTime.After(recs[j].LastUpdateTime) {
			recs[j-1], recs[j] = recs[j], recs[j-1]
			j--
		}
	}
}

// Advance drives the state machine for id forward via advanceLocked (as many
// steps as succeed in a row), holding id's advisory lock. A no-op on terminal or PendingPayment
// records (the latter only ever leaves via debit_fee in RequestDeployment
// or the reconciliation PENDING_TTL check).
func (m *Machine) Advance(ctx context.Context, id string) error {
	lock := m.lockDeployment(id)
	lock.Lock()
	defer lock.Unlock()

	var rec domain.DeploymentRecord
	found, err := m.store.Get(ctx, collDeployments, id, &rec)
	if err != nil {
		return err
	}
	if !found || rec.Status.Terminal() {
		return nil
	}
	return m.advanceLocked(ctx, &rec)
}

// advanceLocked drives rec forward step by step until a step makes no
// further progress (a temporary failure leaves it in the same state for
// reconciliation to retry later) or it reaches a terminal state. A single
// "turn" on the cooperative scheduling model (spec.md §5) may therefore
// chain several suspension points back to back when nothing blocks it.
func (m *Machine) advanceLocked(ctx context.Context, rec *domain.DeploymentRecord) error {
	for {
		before := rec.Status
		var err error
		switch rec.Status {
		case domain.StatusPaymentReceived:
			err = m.stepCreate(ctx, rec)
		case domain.StatusCanisterCreated:
			err = m.stepInstall(ctx, rec)
		case domain.StatusCodeInstalled, domain.StatusInitialized:
			err = m.finalizeDeployed(ctx, rec)
		default:
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status == before || rec.Status.Terminal() {
			return nil
		}
	}
}

// stepCreate implements ordering rule 2: container.create is invoked at
// most once per DeploymentRecord.
func (m *Machine) stepCreate(ctx context.Context, rec *domain.DeploymentRecord) error {
	if rec.CreateAttempted {
		return nil
	}
	rec.CreateAttempted = true
	rec.LastUpdateTime = m.now()
	if err := m.persist(ctx, rec); err != nil {
		return err
	}

	id, err := m.containers.Create(ctx) // suspension point
	rec.LastUpdateTime = m.now()
	if id != "" {
		rec.ContainerID = string(id)
	}
	if err != nil {
		cerr, _ := err.(*containerport.Error)
		if rec.ContainerID != "" {
			// A container id was observed alongside the error: the call
			// actually landed, proceed as if it had succeeded outright.
			rec.Status = domain.StatusCanisterCreated
			return m.persist(ctx, rec)
		}
		if cerr != nil && cerr.Code == containerport.Permanent {
			rec.Status = domain.StatusDeploymentFailed
			rec.FailureCause = domain.CauseHostPermanent
			rec.ErrorMessage = err.Error()
			return m.persist(ctx, rec)
		}
		// Ambiguous/Temporary with no id observed: stay in PaymentReceived.
		// Reconciliation applies the STUCK_TTL lookup window.
		return m.persist(ctx, rec)
	}

	rec.Status = domain.StatusCanisterCreated
	return m.persist(ctx, rec)
}

// stepInstall implements ordering rules 3-4. The container port's Install
// already takes an init blob, so a successful call covers both "install"
// and "initialize" from spec.md's state diagram.
func (m *Machine) stepInstall(ctx context.Context, rec *domain.DeploymentRecord) error {
	image, err := m.images.Get(ctx, rec.StrategyKind)
	if err != nil {
		rec.Status = domain.StatusDeploymentFailed
		rec.FailureCause = domain.CauseHostPermanent
		rec.ErrorMessage = "no code image registered for strategy kind: " + rec.StrategyKind
		rec.LastUpdateTime = m.now()
		m.destroyContainer(ctx, rec)
		return m.persist(ctx, rec)
	}

	err = m.containers.Install(ctx, containerport.ContainerID(rec.ContainerID), image.Payload, rec.ConfigBlob) // suspension point
	rec.LastUpdateTime = m.now()
	if err != nil {
		cerr, _ := err.(*containerport.Error)
		if cerr != nil && cerr.Code == containerport.Temporary {
			rec.InstallAttempts++
			if rec.InstallAttempts >= m.cfg.MaxInstallAttempts {
				rec.Status = domain.StatusDeploymentFailed
				rec.FailureCause = domain.CauseAttemptsUsedUp
				rec.ErrorMessage = err.Error()
				m.destroyContainer(ctx, rec)
			}
			return m.persist(ctx, rec)
		}
		rec.Status = domain.StatusDeploymentFailed
		rec.FailureCause = domain.CauseHostPermanent
		rec.ErrorMessage = err.Error()
		m.destroyContainer(ctx, rec)
		return m.persist(ctx, rec)
	}

	rec.Status = domain.StatusCodeInstalled
	if err := m.persist(ctx, rec); err != nil {
		return err
	}
	rec.Status = domain.StatusInitialized
	if err := m.persist(ctx, rec); err != nil {
		return err
	}
	return m.finalizeDeployed(ctx, rec)
}

func (m *Machine) finalizeDeployed(ctx context.Context, rec *domain.DeploymentRecord) error {
	meta := domain.StrategyMetadata{
		ContainerID:  rec.ContainerID,
		StrategyKind: rec.StrategyKind,
		Owner:        rec.Owner,
		CreatedAt:    m.now(),
		Status:       "active",
	}
	if err := m.registry.Record(ctx, meta); err != nil {
		return err
	}
	rec.Status = domain.StatusDeployed
	rec.LastUpdateTime = m.now()
	return m.persist(ctx, rec)
}

func (m *Machine) destroyContainer(ctx context.Context, rec *domain.DeploymentRecord) {
	if rec.ContainerID == "" {
		return
	}
	if err := m.containers.Destroy(ctx, containerport.ContainerID(rec.ContainerID)); err != nil {
		m.Logger("deployment %s: destroy container %s failed: %v", rec.DeploymentID, rec.ContainerID, err)
	}
}

func (m *Machine) enterRefunding(ctx context.Context, rec *domain.DeploymentRecord) error {
	rec.Status = domain.StatusRefunding
	rec.LastUpdateTime = m.now()
	return m.persist(ctx, rec)
}

func (m *Machine) refundBackoffSatisfied(rec *domain.DeploymentRecord, now time.Time) bool {
	if rec.RefundAttempts == 0 {
		return true
	}
	shift := rec.RefundAttempts - 1
	if shift > 6 {
		shift = 6
	}
	waitSecs := m.cfg.RetryBaseSecs << uint(shift)
	if waitSecs > m.cfg.RetryCapSecs || waitSecs <= 0 {
		waitSecs = m.cfg.RetryCapSecs
	}
	return now.Sub(rec.LastUpdateTime) >= time.Duration(waitSecs)*time.Second
}

func (m *Machine) attemptRefund(ctx context.Context, rec *domain.DeploymentRecord) error {
	now := m.now()
	if !m.refundBackoffSatisfied(rec, now) {
		return nil
	}
	m.Metrics.ObserveRefundAttempt()
	if _, err := m.ledger.CreditRefund(ctx, rec.Owner, rec.FeeAmount, rec.DeploymentID); err != nil {
		rec.RefundAttempts++
		rec.LastUpdateTime = m.now()
		return m.persist(ctx, rec)
	}
	rec.Status = domain.StatusRefunded
	rec.LastUpdateTime = m.now()
	return m.persist(ctx, rec)
}

// ProcessOne applies one reconciliation step to a single DeploymentRecord,
// implementing spec.md §4.9's per-record rules: PENDING_TTL cancellation,
// DEPLOYMENT_TTL / STUCK_TTL timeout, entering Refunding, attempting a
// backed-off refund, or otherwise advancing it via advanceLocked.
func (m *Machine) ProcessOne(ctx context.Context, id string) error {
	lock := m.lockDeployment(id)
	lock.Lock()
	defer lock.Unlock()

	var rec domain.DeploymentRecord
	found, err := m.store.Get(ctx, collDeployments, id, &rec)
	if err != nil {
		return err
	}
	if !found || rec.Status.Terminal() {
		return nil
	}

	now := m.now()
	switch rec.Status {
	case domain.StatusPendingPayment:
		if now.Sub(rec.RequestTime) > m.cfg.PendingTTL {
			rec.Status = domain.StatusDeploymentCancelled
			rec.ErrorMessage = "pending payment expired"
			rec.LastUpdateTime = now
			return m.persist(ctx, &rec)
		}
		return nil

	case domain.StatusPaymentReceived, domain.StatusCanisterCreated, domain.StatusCodeInstalled, domain.StatusInitialized:
		if rec.Status == domain.StatusPaymentReceived && rec.CreateAttempted && rec.ContainerID == "" &&
			now.Sub(rec.LastUpdateTime) > m.cfg.StuckTTL {
			rec.Status = domain.StatusDeploymentFailed
			rec.FailureCause = domain.CauseCreateAmbiguous
			rec.ErrorMessage = "container create result never resolved"
			rec.LastUpdateTime = now
			return m.persist(ctx, &rec)
		}
		if now.Sub(rec.RequestTime) > m.cfg.DeploymentTTL {
			rec.Status = domain.StatusDeploymentFailed
			rec.FailureCause = domain.CauseTimeout
			rec.ErrorMessage = "deployment exceeded its TTL"
			rec.LastUpdateTime = now
			m.destroyContainer(ctx, &rec)
			return m.persist(ctx, &rec)
		}
		return m.advanceLocked(ctx, &rec)

	case domain.StatusDeploymentFailed:
		return m.enterRefunding(ctx, &rec)

	case domain.StatusRefunding:
		return m.attemptRefund(ctx, &rec)
	}
	return nil
}

// ForceAdvance resets last_update_time and attempts exactly one advance,
// bypassing refund backoff but never MAX_INSTALL_ATTEMPTS — the semantics
// chosen for force_execute_deployment (spec.md §4.8 Open Question).
func (m *Machine) ForceAdvance(ctx context.Context, id string) error {
	lock := m.lockDeployment(id)
	lock.Lock()
	defer lock.Unlock()

	var rec domain.DeploymentRecord
	found, err := m.store.Get(ctx, collDeployments, id, &rec)
	if err != nil {
		return err
	}
	if !found || rec.Status.Terminal() {
		return nil
	}
	rec.LastUpdateTime = m.now()

	switch rec.Status {
	case domain.StatusDeploymentFailed:
		return m.enterRefunding(ctx, &rec)
	case domain.StatusRefunding:
		rec.RefundAttempts = 0 // bypass backoff for this one forced attempt
		return m.attemptRefund(ctx, &rec)
	default:
		return m.advanceLocked(ctx, &rec)
	}
}

func unmarshalRecord(raw []byte, rec *domain.DeploymentRecord) error {
	return json.Unmarshal(raw, rec)
}
