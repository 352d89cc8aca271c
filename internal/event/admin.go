package event

import "github.com/ethereum/go-ethereum/common"

type Initialized struct {
	Owner          common.Address `json:"owner"`
	Agent          common.Address `json:"agent"`
	Token          common.Address `json:"token"`
	TokenDecimals  uint8          `json:"token_decimals"`
	TvlCap         int64          `json:"tvl_cap"`
	UserDepositCap int64          `json:"user_deposit_cap"`
}

func (Initialized) EventType() EventType { return EventTypeInitialized }

// Pause is published as "paused" or "unpaused" depending on Paused.
type Pause struct {
	Paused bool           `json:"paused"`
	Caller common.Address `json:"caller"`
}

func (p Pause) EventType() EventType {
	if p.Paused {
		return EventTypePaused
	}
	return EventTypeUnpaused
}

type EmergencyPaused struct {
	Caller common.Address `json:"caller"`
}

func (EmergencyPaused) EventType() EventType { return EventTypeEmergencyPaused }

type LimitsUpdated struct {
	OldUserDepositCap int64 `json:"old_user_deposit_cap"`
	NewUserDepositCap int64 `json:"new_user_deposit_cap"`
	OldTvlCap         int64 `json:"old_tvl_cap"`
	NewTvlCap         int64 `json:"new_tvl_cap"`
}

func (LimitsUpdated) EventType() EventType { return EventTypeLimitsUpdated }

type AssetsUpdated struct {
	OldTotal int64 `json:"old_total"`
	NewTotal int64 `json:"new_total"`
}

func (AssetsUpdated) EventType() EventType { return EventTypeAssetsUpdated }

type Upgraded struct {
	FromVersion uint32 `json:"from_version"`
	ToVersion   uint32 `json:"to_version"`
}

func (Upgraded) EventType() EventType { return EventTypeUpgraded }
