package domain

import "dextra-ledger/internal/solana"

// EventType identifies a ledger event.
type EventType string

const (
	EventDeposit  EventType = "deposit"
	EventWithdraw EventType = "withdraw"
	EventClaim    EventType = "claim"
	EventSwap     EventType = "swap"
)

// Event is a committed ledger movement. Referrer is set on deposits only;
// Direction and ReceivedAmount on swaps only.
type Event struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	User           solana.PublicKey  `json:"user"`
	PoolID         uint64            `json:"pool_id"`
	Amount         uint64            `json:"amount"`
	Referrer       *solana.PublicKey `json:"referrer,omitempty"`
	Direction      bool              `json:"direction,omitempty"`
	ReceivedAmount uint64            `json:"received_amount,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

// NewDepositEvent builds a deposit event. A zero referrer is omitted.
func NewDepositEvent(user solana.PublicKey, poolID, amount uint64, referrer solana.PublicKey, ts int64) Event {
	e := Event{Type: EventDeposit, User: user, PoolID: poolID, Amount: amount, Timestamp: ts}
	if !referrer.IsZero() {
		e.Referrer = &referrer
	}
	return e
}

// NewWithdrawEvent builds a withdraw event.
func NewWithdrawEvent(user solana.PublicKey, poolID, amount uint64, ts int64) Event {
	return Event{Type: EventWithdraw, User: user, PoolID: poolID, Amount: amount, Timestamp: ts}
}

// NewClaimEvent builds a claim event.
func NewClaimEvent(user solana.PublicKey, poolID, amount uint64, ts int64) Event {
	return Event{Type: EventClaim, User: user, PoolID: poolID, Amount: amount, Timestamp: ts}
}

// NewSwapEvent builds a swap event.
func NewSwapEvent(user solana.PublicKey, poolID, amount uint64, direction bool, received uint64, ts int64) Event {
	return Event{
		Type:           EventSwap,
		User:           user,
		PoolID:         poolID,
		Amount:         amount,
		Direction:      direction,
		ReceivedAmount: received,
		Timestamp:      ts,
	}
}
