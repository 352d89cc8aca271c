package event

import "github.com/ethereum/go-ethereum/common"

// Deposit is emitted after an account's balance and the total have grown.
type Deposit struct {
	Account common.Address `json:"account"`
	Amount  int64          `json:"amount"`
}

func (Deposit) EventType() EventType { return EventTypeDeposit }

// Withdraw is emitted after the balance was debited and the token pushed.
type Withdraw struct {
	Account common.Address `json:"account"`
	Amount  int64          `json:"amount"`
}

func (Withdraw) EventType() EventType { return EventTypeWithdraw }

// Rebalance is the agent's strategy signal. Nothing moves on-ledger.
type Rebalance struct {
	Strategy string `json:"strategy"`
	Amount   int64  `json:"amount"`
}

func (Rebalance) EventType() EventType { return EventTypeRebalance }
