// Package orchestrator drives position operations through
// build, balance check, sign, submit and confirm.
package orchestrator

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// State is a step of an operation. Confirmed and Failed are terminal.
type State string

const (
	StatePending        State = "pending"
	StateBuilt          State = "built"
	StateBalanceChecked State = "balance_checked"
	StateSigned         State = "signed"
	StateSubmitted      State = "submitted"
	StateConfirmed      State = "confirmed"
	StateFailed         State = "failed"
)

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Kind names an operation.
type Kind string

const (
	KindCreate   Kind = "create"
	KindAdd      Kind = "add"
	KindRemove   Kind = "remove"
	KindClaim    Kind = "claim"
	KindClaimAll Kind = "claim-all"
	KindClose    Kind = "close"
)

// Transition is one recorded state change. Tx is the index of the
// transaction it concerns, or -1 for the operation as a whole.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Tx        int       `json:"tx"`
	Signature string    `json:"signature,omitempty"`
	At        time.Time `json:"at"`
	Err       string    `json:"error,omitempty"`
}

// Result is the outcome of one operation. Signatures lists confirmed
// transactions in order; a failed sequence keeps the ones that confirmed
// before the failure.
type Result struct {
	OperationID      uuid.UUID          `json:"operationId"`
	Kind             Kind               `json:"kind"`
	State            State              `json:"state"`
	Signatures       []solana.Signature `json:"signatures"`
	PositionIdentity solana.PublicKey   `json:"positionIdentity"`
	Transactions     int                `json:"transactions"`
	History          []Transition       `json:"history"`
	Cause            error              `json:"-"`
}

type tracker struct {
	result *Result
	now    func() time.Time
}

func (t *tracker) move(to State, tx int, sig solana.Signature, err error) {
	tr := Transition{From: t.result.State, To: to, Tx: tx, At: t.now()}
	if !sig.IsZero() {
		tr.Signature = sig.String()
	}
	if err != nil {
		tr.Err = err.Error()
	}
	t.result.History = append(t.result.History, tr)
	t.result.State = to
}

func (t *tracker) fail(tx int, sig solana.Signature, err error) {
	t.result.Cause = err
	t.move(StateFailed, tx, sig, err)
}
