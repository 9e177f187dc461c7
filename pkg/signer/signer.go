// Package signer abstracts who authorizes and submits transactions. Callers
// only see a Capability; the backend behind it is never inspected.
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"dlmmpilot/pkg/errs"
	"dlmmpilot/pkg/sol"
)

// ErrUserCancelled is returned by approval prompts and sessions when the
// user declines to sign.
var ErrUserCancelled = errors.New("user cancelled signing")

// Sender submits a fully signed transaction.
type Sender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// SignFunc signs tx, submits it and returns its signature.
type SignFunc func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

// Capability is what a backend can do right now.
type Capability struct {
	CanSign bool
	// NativeConnection is the backend's own RPC client, if it has one.
	// Callers prefer it over their default connection.
	NativeConnection *sol.Client
	// Signer is the account paying for and authorizing transactions.
	Signer solana.PublicKey
	Sign   SignFunc
}

// Backend reports its current capability.
type Backend interface {
	Capability() Capability
}

func nativeOf(sender Sender) *sol.Client {
	if c, ok := sender.(*sol.Client); ok {
		return c
	}
	return nil
}

// rejection maps cancellations to UserRejected and leaves other errors as is.
func rejection(err error) error {
	if errors.Is(err, ErrUserCancelled) || errors.Is(err, context.Canceled) {
		return errs.UserRejected(err)
	}
	return err
}

// setSignature stores sig in the slot of signer, sizing the signature list
// from the message header when needed.
func setSignature(tx *solana.Transaction, signer solana.PublicKey, sig solana.Signature) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < required {
		sigs := make([]solana.Signature, required)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(signer) {
			tx.Signatures[i] = sig
			return nil
		}
	}
	return fmt.Errorf("%s is not a required signer of the transaction", signer)
}
