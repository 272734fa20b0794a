package api

import "github.com/warp-strategies/factory/internal/domain"

// StrategyConfigRequest is the common envelope every request_<kind>_strategy
// endpoint accepts. spec.md §4.10 validates only the common fields (exchange
// tag, trading-pair descriptor) and treats the rest opaquely; Params carries
// whatever kind-specific knobs the strategy needs (e.g. a DCA's
// amount_per_execution / interval_secs), serialized verbatim into
// config_blob.
type StrategyConfigRequest struct {
	Exchange              string         `json:"exchange"`
	TradingPairDescriptor string         `json:"trading_pair_descriptor"`
	Params                map[string]any `json:"params"`
}

// strategyConfigBlob is what actually gets persisted as DeploymentRecord's
// config_blob: the validated common envelope plus the strategy kind, so a
// later admin inspecting config_blob doesn't need the DeploymentRecord's own
// strategy_kind field to make sense of it.
type strategyConfigBlob struct {
	StrategyKind          StrategyKind   `json:"strategy_kind"`
	Exchange              string         `json:"exchange"`
	TradingPairDescriptor string         `json:"trading_pair_descriptor"`
	Params                map[string]any `json:"params"`
}

// DeploymentRequestResponse is C10 step 7's return value.
type DeploymentRequestResponse struct {
	DeploymentID string `json:"deployment_id"`
	FeeAmount    int64  `json:"fee_amount"`
	StrategyKind string `json:"strategy_kind"`
}

type depositRequest struct {
	Amount         int64  `json:"amount"`
	Memo           string `json:"memo"`
	IdempotencyKey string `json:"idempotency_key"`
}

type withdrawRequest struct {
	Amount int64 `json:"amount"`
}

type adjustBalanceRequest struct {
	User   string `json:"user"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type adminWithdrawRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type setFeeRequest struct {
	Fee int64 `json:"fee"`
}

type installImageRequest struct {
	StrategyKind string `json:"strategy_kind"`
	Version      string `json:"version"`
	PayloadB64   string `json:"payload_base64"`
}

// errorResponse is the structured error body spec.md §7 requires: "every
// request returns either a structured success value or a structured error
// with a discriminant tag and human-readable message."
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type historyResponse struct {
	Records []domain.TransactionRecord `json:"records"`
	Page    int                        `json:"page"`
}

type adminListResponse struct {
	Admins []string `json:"admins"`
}
