package signer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// ErrSigningInFlight is returned when a managed session is asked to sign
// while a previous request is still pending.
var ErrSigningInFlight = errors.New("a signing request is already in flight")

// Session is a custodial wallet session. SignMessage returns the base58
// signature of a serialized transaction message.
type Session interface {
	Active() bool
	PublicKey() solana.PublicKey
	SignMessage(ctx context.Context, message []byte) (string, error)
}

// Managed signs through a custodial session and submits over its own
// connection.
type Managed struct {
	session  Session
	sender   Sender
	inFlight atomic.Bool
	logger   *zap.Logger
}

func NewManaged(session Session, sender Sender, logger *zap.Logger) *Managed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Managed{session: session, sender: sender, logger: logger}
}

// Capability reports CanSign only with an active session, a connection and
// no signing request pending.
func (m *Managed) Capability() Capability {
	active := m.session != nil && m.session.Active()
	var signer solana.PublicKey
	if active {
		signer = m.session.PublicKey()
	}
	return Capability{
		CanSign:          active && m.sender != nil && !m.inFlight.Load(),
		NativeConnection: nativeOf(m.sender),
		Signer:           signer,
		Sign:             m.sign,
	}
}

func (m *Managed) sign(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return solana.Signature{}, ErrSigningInFlight
	}
	defer m.inFlight.Store(false)

	if m.session == nil || !m.session.Active() {
		return solana.Signature{}, errors.New("managed session is not active")
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serialize message: %w", err)
	}
	encoded, err := m.session.SignMessage(ctx, message)
	if err != nil {
		return solana.Signature{}, rejection(err)
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode session signature: %w", err)
	}
	if len(raw) != 64 {
		return solana.Signature{}, fmt.Errorf("session signature must be 64 bytes, got %d", len(raw))
	}
	if err := setSignature(tx, m.session.PublicKey(), solana.SignatureFromBytes(raw)); err != nil {
		return solana.Signature{}, err
	}

	sig, err := m.sender.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	m.logger.Debug("Submitted managed transaction", zap.String("signature", sig.String()))
	return sig, nil
}
