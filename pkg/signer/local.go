package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// Approver asks the user to confirm tx before it is signed. Returning false
// rejects it.
type Approver func(ctx context.Context, tx *solana.Transaction) (bool, error)

// Local signs with a keypair held in memory.
type Local struct {
	key     solana.PrivateKey
	sender  Sender
	approve Approver
	logger  *zap.Logger
}

type LocalOption func(*Local)

// WithApprover prompts before every signature.
func WithApprover(approve Approver) LocalOption {
	return func(l *Local) { l.approve = approve }
}

func WithLogger(logger *zap.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

func NewLocal(key solana.PrivateKey, sender Sender, opts ...LocalOption) *Local {
	l := &Local{key: key, sender: sender, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) PublicKey() solana.PublicKey {
	return l.key.PublicKey()
}

// Capability reports CanSign whenever a key and a sender are present.
func (l *Local) Capability() Capability {
	return Capability{
		CanSign:          len(l.key) == 64 && l.sender != nil,
		NativeConnection: nativeOf(l.sender),
		Signer:           l.PublicKey(),
		Sign:             l.sign,
	}
}

func (l *Local) sign(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if l.approve != nil {
		ok, err := l.approve(ctx, tx)
		if err != nil {
			return solana.Signature{}, rejection(err)
		}
		if !ok {
			return solana.Signature{}, rejection(ErrUserCancelled)
		}
	}

	pub := l.key.PublicKey()
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &l.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := l.sender.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	l.logger.Debug("Submitted transaction", zap.String("signature", sig.String()))
	return sig, nil
}

// ParsePrivateKey accepts a base58 secret key or a solana-keygen JSON byte
// array.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("parse keypair bytes: %w", err)
		}
		raw := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
		return keyFromBytes(raw)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58 key: %w", err)
	}
	return keyFromBytes(raw)
}

// LoadKeypair reads a solana-keygen file or a file holding a base58 key.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}
	return ParsePrivateKey(string(data))
}

func keyFromBytes(raw []byte) (solana.PrivateKey, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("keypair must be 64 bytes, got %d", len(raw))
	}
	return solana.PrivateKey(raw), nil
}
