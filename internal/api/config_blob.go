package api

import "encoding/json"

// marshalConfigBlob encodes the validated request into the opaque payload
// DeploymentRecord.config_blob carries through to C4's Install call
// (spec.md §3, "config_blob (opaque payload for strategy init)").
func marshalConfigBlob(kind StrategyKind, req StrategyConfigRequest) ([]byte, error) {
	return json.Marshal(strategyConfigBlob{
		StrategyKind:          kind,
		Exchange:              req.Exchange,
		TradingPairDescriptor: req.TradingPairDescriptor,
		Params:                req.Params,
	})
}
