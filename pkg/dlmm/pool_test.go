package dlmm

import (
	"context"
	"errors"
	"testing"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmmpilot/pkg/errs"
)

func newTestPool(t *testing.T, activeID int32) (*Pool, *fakeRPC, pairFixture) {
	t.Helper()
	f := newFakeRPC()
	fx := newPairFixture(activeID)
	fx.install(f, 1000, 4000)
	pool, err := NewPool(context.Background(), f, fx.LbPair.String())
	require.NoError(t, err)
	return pool, f, fx
}

func signatureOf(tx *solana.Transaction, key solana.PublicKey) solana.Signature {
	for i, k := range tx.Message.AccountKeys {
		if k.Equals(key) && i < len(tx.Signatures) {
			return tx.Signatures[i]
		}
	}
	return solana.Signature{}
}

func TestNewPool_InvalidPool(t *testing.T) {
	f := newFakeRPC()
	ctx := context.Background()

	_, err := NewPool(ctx, f, "not-a-key")
	assert.Equal(t, errs.KindInvalidPool, errs.KindOf(err))

	_, err = NewPool(ctx, f, solana.NewWallet().PublicKey().String())
	assert.Equal(t, errs.KindInvalidPool, errs.KindOf(err))

	fx := newPairFixture(0)
	f.put(fx.LbPair, solana.SystemProgramID, fx.lbPairData())
	_, err = NewPool(ctx, f, fx.LbPair.String())
	assert.Equal(t, errs.KindInvalidPool, errs.KindOf(err))
}

func TestNewPool_ConnectionErrorPassesThrough(t *testing.T) {
	f := newFakeRPC()
	f.err = errs.Connection(errors.New("dial tcp"), "getAccountInfo")
	_, err := NewPool(context.Background(), f, solana.NewWallet().PublicKey().String())
	assert.Equal(t, errs.KindConnection, errs.KindOf(err))
}

func TestPool_ActiveBin(t *testing.T) {
	pool, _, fx := newTestPool(t, 1000)
	assert.Equal(t, fx.LbPair, pool.Address())
	assert.Equal(t, "http://fake", pool.Endpoint())

	active, err := pool.ActiveBin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1000), active.BinID)
	assert.Equal(t, "1000", active.XAmount)
	assert.Equal(t, "4000", active.YAmount)
	assert.NotEmpty(t, active.Price)
	assert.NotEqual(t, active.Price, active.PricePerToken)
}

func TestPool_InitializePositionChunksAndPartiallySigns(t *testing.T) {
	pool, _, _ := newTestPool(t, 1000)
	user := solana.NewWallet().PublicKey()
	position := solana.NewWallet().PrivateKey

	txs, err := pool.InitializePositionAndAddLiquidityByStrategy(context.Background(), AddLiquidityParams{
		PositionSigner: position,
		User:           user,
		TotalXAmount:   cosmath.NewInt(1_000_000),
		TotalYAmount:   cosmath.NewInt(2_000_000),
		Strategy:       Strategy{MinBinID: 966, MaxBinID: 1034, Type: StrategySpot},
		ComputeUnits:   890_000,
	})
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.False(t, signatureOf(txs[0], position.PublicKey()).IsZero())
	assert.True(t, signatureOf(txs[0], user).IsZero())
	for _, tx := range txs {
		assert.Equal(t, user, tx.Message.AccountKeys[0], "user pays")
	}
	for _, tx := range txs[1:] {
		assert.True(t, signatureOf(tx, position.PublicKey()).IsZero())
	}
}

func TestPool_InitializePositionRequiresSigner(t *testing.T) {
	pool, _, _ := newTestPool(t, 0)
	_, err := pool.InitializePositionAndAddLiquidityByStrategy(context.Background(), AddLiquidityParams{
		User:     solana.NewWallet().PublicKey(),
		Strategy: Strategy{MinBinID: -5, MaxBinID: 5},
	})
	assert.Error(t, err)
}

func TestPool_AddLiquidityRejectsOversizedWidth(t *testing.T) {
	pool, _, _ := newTestPool(t, 0)
	_, err := pool.AddLiquidityByStrategy(context.Background(), AddLiquidityParams{
		Position: solana.NewWallet().PublicKey(),
		User:     solana.NewWallet().PublicKey(),
		Strategy: Strategy{MinBinID: 0, MaxBinID: 70},
	})
	assert.Error(t, err)
}

func TestPool_RemoveLiquidity(t *testing.T) {
	pool, f, fx := newTestPool(t, 1000)
	user := solana.NewWallet().PublicKey()
	position := solana.NewWallet().PublicKey()

	shares := map[int32]uint64{}
	for id := int32(966); id <= 1034; id++ {
		shares[id] = 1
	}
	f.put(position, DLMMProgramID, positionData(fx.LbPair, user, 966, 1034, shares))

	txs, err := pool.RemoveLiquidity(context.Background(), RemoveLiquidityParams{
		Position:            position,
		User:                user,
		FromBinID:           966,
		ToBinID:             1034,
		BpsToRemove:         []uint16{10000},
		ShouldClaimAndClose: true,
	})
	require.NoError(t, err)
	// 69 bins in 26-bin batches plus claim-and-close.
	assert.Len(t, txs, 4)

	_, err = pool.RemoveLiquidity(context.Background(), RemoveLiquidityParams{
		Position: position, User: user, FromBinID: 966, ToBinID: 1034, BpsToRemove: []uint16{1, 2},
	})
	assert.Error(t, err)

	_, err = pool.RemoveLiquidity(context.Background(), RemoveLiquidityParams{
		Position: position, User: user, FromBinID: 2000, ToBinID: 2010,
	})
	assert.Error(t, err, "no liquidity in range")
}

func TestPool_ClaimAllBatchesTwoPerTransaction(t *testing.T) {
	pool, f, fx := newTestPool(t, 1000)
	user := solana.NewWallet().PublicKey()

	var positions []solana.PublicKey
	for i := 0; i < 3; i++ {
		pos := solana.NewWallet().PublicKey()
		f.put(pos, DLMMProgramID, positionData(fx.LbPair, user, 990, 1010, nil))
		positions = append(positions, pos)
	}

	txs, err := pool.ClaimAllSwapFee(context.Background(), user, positions)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	tx, err := pool.ClaimSwapFee(context.Background(), user, positions[0])
	require.NoError(t, err)
	assert.NotNil(t, tx)

	_, err = pool.ClaimAllSwapFee(context.Background(), user, nil)
	assert.Error(t, err)
}

func TestPool_ClosePosition(t *testing.T) {
	pool, f, fx := newTestPool(t, 1000)
	user := solana.NewWallet().PublicKey()

	empty := solana.NewWallet().PublicKey()
	f.put(empty, DLMMProgramID, positionData(fx.LbPair, user, 990, 1010, nil))
	tx, err := pool.ClosePosition(context.Background(), user, empty)
	require.NoError(t, err)
	assert.NotNil(t, tx)

	funded := solana.NewWallet().PublicKey()
	f.put(funded, DLMMProgramID, positionData(fx.LbPair, user, 990, 1010, map[int32]uint64{1000: 1}))
	_, err = pool.ClosePosition(context.Background(), user, funded)
	assert.Error(t, err)

	other := solana.NewWallet().PublicKey()
	f.put(other, DLMMProgramID, positionData(solana.NewWallet().PublicKey(), user, 990, 1010, nil))
	_, err = pool.ClosePosition(context.Background(), user, other)
	assert.Error(t, err, "position of another pool")
}

func TestPool_PositionsByUser(t *testing.T) {
	pool, f, fx := newTestPool(t, 1000)
	user := solana.NewWallet().PublicKey()

	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	f.programAccounts = nil
	for _, key := range []solana.PublicKey{a, b} {
		f.put(key, DLMMProgramID, positionData(fx.LbPair, user, 990, 1010, nil))
		f.programAccounts = append(f.programAccounts, f.accounts[key])
	}

	positions, err := pool.PositionsByUser(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.True(t, positions[0].Address.String() < positions[1].Address.String())
	assert.Equal(t, user, positions[0].Owner)
}
