package server

import (
	"NeuroVault/internal/event"
	"NeuroVault/internal/ledger"
	fpmath "NeuroVault/internal/math"
)

// Signed operation names. A request signed for one operation is rejected
// by every other.
const (
	OpInitialize        = "initialize"
	OpDeposit           = "deposit"
	OpWithdraw          = "withdraw"
	OpRebalance         = "rebalance"
	OpSetPaused         = "set_paused"
	OpEmergencyPause    = "emergency_pause"
	OpSetTvlCap         = "set_tvl_cap"
	OpSetUserDepositCap = "set_user_deposit_cap"
	OpSetLimits         = "set_limits"
	OpReportAssets      = "report_assets"
	OpUpgrade           = "upgrade"
)

// Bodies carried inside access.SignedRequest.Body.

type InitializeBody struct {
	Owner string `json:"owner"`
	Agent string `json:"agent"`
	Token string `json:"token"`
}

type TransferBody struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type RebalanceBody struct {
	Strategy string `json:"strategy"`
	Amount   int64  `json:"amount"`
}

type PausedBody struct {
	Paused bool `json:"paused"`
}

type CapBody struct {
	Value int64 `json:"value"`
}

type LimitsBody struct {
	UserDepositCap int64 `json:"user_deposit_cap"`
	TvlCap         int64 `json:"tvl_cap"`
}

type AssetsBody struct {
	Total int64 `json:"total"`
}

// MutationResponse reports the committed event. Committed without an
// event is a no-op success.
type MutationResponse struct {
	Committed bool            `json:"committed"`
	Event     *event.Envelope `json:"event,omitempty"`
}

type Empty struct{}

type BalanceRequest struct {
	Account string `json:"account"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type TotalDepositsResponse struct {
	TotalDeposits int64 `json:"total_deposits"`
}

type AgentResponse struct {
	Agent string `json:"agent"`
}

type PausedResponse struct {
	Paused bool `json:"paused"`
}

type ConfigResponse struct {
	Owner          string `json:"owner"`
	Agent          string `json:"agent"`
	Token          string `json:"token"`
	TokenDecimals  uint8  `json:"token_decimals"`
	TotalDeposits  int64  `json:"total_deposits"`
	TotalAssets    int64  `json:"total_assets"`
	Paused         bool   `json:"paused"`
	TvlCap         int64  `json:"tvl_cap"`
	UserDepositCap int64  `json:"user_deposit_cap"`
	Version        uint32 `json:"version"`

	// Decimal renderings at the token's precision, for display only.
	TotalDepositsUnits string `json:"total_deposits_units"`
	TotalAssetsUnits   string `json:"total_assets_units"`
}

func configResponse(cfg ledger.Config) *ConfigResponse {
	return &ConfigResponse{
		Owner:          cfg.Owner.Hex(),
		Agent:          cfg.Agent.Hex(),
		Token:          cfg.Token.Hex(),
		TokenDecimals:  cfg.TokenDecimals,
		TotalDeposits:  cfg.TotalDeposits,
		TotalAssets:    cfg.TotalAssets,
		Paused:         cfg.Paused,
		TvlCap:         cfg.TvlCap,
		UserDepositCap: cfg.UserDepositCap,
		Version:        cfg.Version,

		TotalDepositsUnits: fpmath.FormatUnits(cfg.TotalDeposits, cfg.TokenDecimals),
		TotalAssetsUnits:   fpmath.FormatUnits(cfg.TotalAssets, cfg.TokenDecimals),
	}
}

type ListEventsRequest struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

type ListEventsResponse struct {
	Events []event.Envelope `json:"events"`
	// Next is the cursor to pass as After for the following page.
	Next int64 `json:"next"`
}
