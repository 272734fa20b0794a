// Package domain holds the entity types persisted by the Factory (spec.md
// §3) and the vocabulary shared across every component: transaction kinds,
// deployment states, and the error-classification types used by the
// provisioning ports.
package domain

import "time"

// TransactionKind classifies a TransactionRecord.
type TransactionKind string

const (
	Deposit         TransactionKind = "deposit"
	Withdrawal      TransactionKind = "withdrawal"
	DeploymentFee   TransactionKind = "deployment_fee"
	Refund          TransactionKind = "refund"
	AdminAdjustment TransactionKind = "admin_adjustment"
	Transfer        TransactionKind = "transfer"
)

// UserAccount is the per-user on-platform balance (spec.md §3, Invariants A1/A2).
type UserAccount struct {
	User            string    `json:"user"`
	Balance         int64     `json:"balance"`
	TotalDeposited  int64     `json:"total_deposited"`
	TotalConsumed   int64     `json:"total_consumed"`
	LastDepositTime time.Time `json:"last_deposit_time"`
}

// TransactionRecord is an append-only ledger entry. Never mutated or deleted
// once written (Invariant B1).
type TransactionRecord struct {
	TransactionID string          `json:"transaction_id"`
	User          string          `json:"user"`
	Timestamp     time.Time       `json:"timestamp"`
	Amount        int64           `json:"amount"`
	Kind          TransactionKind `json:"kind"`
	Description   string          `json:"description"`
	DeploymentID  string          `json:"deployment_id,omitempty"`
}

// Sign returns +1 for balance-increasing kinds and -1 for balance-decreasing
// kinds, so that balance = sum(Sign(kind) * amount) over a user's records
// (Invariant A1).
func (k TransactionKind) Sign() int64 {
	switch k {
	case Deposit, Refund:
		return 1
	case Withdrawal, DeploymentFee, Transfer:
		return -1
	case AdminAdjustment:
		return 1 // signed_amount is folded into Amount by the caller; see account.AdminAdjust
	default:
		return 0
	}
}

// DeploymentStatus enumerates the Deployment State Machine's states (spec.md §4.8).
type DeploymentStatus string

const (
	StatusPendingPayment      DeploymentStatus = "pending_payment"
	StatusPaymentReceived     DeploymentStatus = "payment_received"
	StatusCanisterCreated     DeploymentStatus = "canister_created"
	StatusCodeInstalled       DeploymentStatus = "code_installed"
	StatusInitialized         DeploymentStatus = "initialized"
	StatusDeployed            DeploymentStatus = "deployed"
	StatusDeploymentFailed    DeploymentStatus = "deployment_failed"
	StatusRefunding           DeploymentStatus = "refunding"
	StatusRefunded            DeploymentStatus = "refunded"
	StatusDeploymentCancelled DeploymentStatus = "deployment_cancelled"
)

// Terminal reports whether status is one of the three terminal states a
// DeploymentRecord can reach (spec.md §3, Lifecycles).
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusDeployed, StatusRefunded, StatusDeploymentCancelled:
		return true
	default:
		return false
	}
}

// FailureCause records why a DeploymentRecord transitioned to DeploymentFailed.
type FailureCause string

const (
	CauseNone            FailureCause = ""
	CauseCreateAmbiguous FailureCause = "create_ambiguous"
	CauseTimeout         FailureCause = "timeout"
	CauseHostPermanent   FailureCause = "host_permanent"
	CauseAttemptsUsedUp  FailureCause = "attempts_exhausted"
)

// DeploymentRecord is one instance of the provisioning state machine (spec.md §3, §4.8).
type DeploymentRecord struct {
	DeploymentID    string           `json:"deployment_id"`
	Owner           string           `json:"owner"`
	StrategyKind    string           `json:"strategy_kind"`
	FeeAmount       int64            `json:"fee_amount"`
	RequestTime     time.Time        `json:"request_time"`
	LastUpdateTime  time.Time        `json:"last_update_time"`
	Status          DeploymentStatus `json:"status"`
	ContainerID     string           `json:"container_id,omitempty"`
	ConfigBlob      []byte           `json:"config_blob,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	FailureCause    FailureCause     `json:"failure_cause,omitempty"`
	RefundAttempts  int              `json:"refund_attempts"`
	InstallAttempts int              `json:"install_attempts"`
	CreateAttempted bool             `json:"create_attempted,omitempty"`
}

// HasContainer reports whether a container has ever been provisioned for
// this record (Invariant C3).
func (d *DeploymentRecord) HasContainer() bool {
	return d.ContainerID != ""
}

// StrategyMetadata is recorded once a DeploymentRecord reaches Deployed
// (spec.md §3, Invariant D1).
type StrategyMetadata struct {
	ContainerID           string    `json:"container_id"`
	StrategyKind          string    `json:"strategy_kind"`
	Owner                 string    `json:"owner"`
	CreatedAt             time.Time `json:"created_at"`
	Status                string    `json:"status"`
	Exchange              string    `json:"exchange"`
	TradingPairDescriptor string    `json:"trading_pair_descriptor"`
}

// CodeImage is the admin-writable binary payload installed into a container
// for a given strategy kind (spec.md §3, §4.6).
type CodeImage struct {
	StrategyKind string `json:"strategy_kind"`
	Version      string `json:"version"`
	Payload      []byte `json:"payload"`
}
