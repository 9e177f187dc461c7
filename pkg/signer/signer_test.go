package signer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmmpilot/pkg/errs"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*solana.Transaction
	err  error
}

func (s *recordingSender) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return solana.Signature{}, s.err
	}
	s.sent = append(s.sent, tx)
	return tx.Signatures[0], nil
}

func transferTx(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{1},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return tx
}

func TestLocal_SignsAndSubmits(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	sender := &recordingSender{}
	local := NewLocal(key, sender)

	capability := local.Capability()
	require.True(t, capability.CanSign)
	assert.Nil(t, capability.NativeConnection)
	assert.Equal(t, key.PublicKey(), capability.Signer)

	tx := transferTx(t, key.PublicKey())
	sig, err := capability.Sign(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	require.Len(t, sender.sent, 1)
	assert.NoError(t, tx.VerifySignatures())
}

func TestLocal_ApproverRejects(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	sender := &recordingSender{}
	local := NewLocal(key, sender, WithApprover(func(ctx context.Context, tx *solana.Transaction) (bool, error) {
		return false, nil
	}))

	_, err := local.Capability().Sign(context.Background(), transferTx(t, key.PublicKey()))
	assert.Equal(t, errs.KindUserRejected, errs.KindOf(err))
	assert.Empty(t, sender.sent)
}

func TestLocal_CancelledApprovalIsRejection(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	local := NewLocal(key, &recordingSender{}, WithApprover(func(ctx context.Context, tx *solana.Transaction) (bool, error) {
		return false, context.Canceled
	}))
	_, err := local.Capability().Sign(context.Background(), transferTx(t, key.PublicKey()))
	assert.Equal(t, errs.KindUserRejected, errs.KindOf(err))
}

func TestLocal_WithoutSenderCannotSign(t *testing.T) {
	local := NewLocal(solana.NewWallet().PrivateKey, nil)
	assert.False(t, local.Capability().CanSign)
}

func TestLocal_SendErrorPassesThrough(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	sendErr := errs.Connection(errors.New("refused"), "sendTransaction")
	local := NewLocal(key, &recordingSender{err: sendErr})
	_, err := local.Capability().Sign(context.Background(), transferTx(t, key.PublicKey()))
	assert.Equal(t, errs.KindConnection, errs.KindOf(err))
}

func TestParsePrivateKey(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	parsed, err := ParsePrivateKey(base58.Encode(key))
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	raw := "["
	for i, b := range key {
		if i > 0 {
			raw += ","
		}
		raw += strconv.Itoa(int(b))
	}
	raw += "]"
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	loaded, err := LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	_, err = ParsePrivateKey(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
	_, err = ParsePrivateKey("0OIl")
	assert.Error(t, err)
}

type fakeSession struct {
	key     solana.PrivateKey
	active  bool
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSession) Active() bool                { return s.active }
func (s *fakeSession) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s *fakeSession) SignMessage(ctx context.Context, message []byte) (string, error) {
	if s.entered != nil {
		close(s.entered)
		<-s.release
	}
	if s.err != nil {
		return "", s.err
	}
	sig, err := s.key.Sign(message)
	if err != nil {
		return "", err
	}
	return base58.Encode(sig[:]), nil
}

func TestManaged_SignsThroughSession(t *testing.T) {
	session := &fakeSession{key: solana.NewWallet().PrivateKey, active: true}
	sender := &recordingSender{}
	managed := NewManaged(session, sender, nil)

	capability := managed.Capability()
	require.True(t, capability.CanSign)
	tx := transferTx(t, session.PublicKey())
	sig, err := capability.Sign(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.NoError(t, tx.VerifySignatures())
}

func TestManaged_CapabilityRequirements(t *testing.T) {
	inactive := NewManaged(&fakeSession{key: solana.NewWallet().PrivateKey}, &recordingSender{}, nil)
	assert.False(t, inactive.Capability().CanSign)

	noConn := NewManaged(&fakeSession{key: solana.NewWallet().PrivateKey, active: true}, nil, nil)
	assert.False(t, noConn.Capability().CanSign)
}

func TestManaged_InFlightBlocksSecondRequest(t *testing.T) {
	session := &fakeSession{
		key:     solana.NewWallet().PrivateKey,
		active:  true,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	managed := NewManaged(session, &recordingSender{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := managed.Capability().Sign(context.Background(), transferTx(t, session.PublicKey()))
		done <- err
	}()
	<-session.entered

	assert.False(t, managed.Capability().CanSign)
	_, err := managed.Capability().Sign(context.Background(), transferTx(t, session.PublicKey()))
	assert.ErrorIs(t, err, ErrSigningInFlight)

	close(session.release)
	require.NoError(t, <-done)
	assert.True(t, managed.Capability().CanSign)
}

func TestManaged_UserCancelled(t *testing.T) {
	session := &fakeSession{key: solana.NewWallet().PrivateKey, active: true, err: ErrUserCancelled}
	sender := &recordingSender{}
	managed := NewManaged(session, sender, nil)

	_, err := managed.Capability().Sign(context.Background(), transferTx(t, session.PublicKey()))
	assert.Equal(t, errs.KindUserRejected, errs.KindOf(err))
	assert.ErrorIs(t, err, ErrUserCancelled)
	assert.Empty(t, sender.sent)
}

func TestSetSignatureRejectsNonSigner(t *testing.T) {
	tx := transferTx(t, solana.NewWallet().PublicKey())
	err := setSignature(tx, solana.NewWallet().PublicKey(), solana.Signature{1})
	assert.Error(t, err)
}
