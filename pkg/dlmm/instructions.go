package dlmm

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"dlmmpilot/pkg/anchor"
)

// Instruction is an Anchor instruction of the DLMM program: discriminator
// followed by the Borsh-encoded arguments.
type Instruction struct {
	Name                    string
	Args                    interface{}
	solana.AccountMetaSlice `bin:"-" borsh_skip:"true"`
}

func (inst *Instruction) ProgramID() solana.PublicKey {
	return DLMMProgramID
}

func (inst *Instruction) Accounts() (out []*solana.AccountMeta) {
	return inst.AccountMetaSlice
}

func (inst *Instruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.Write(anchor.GetDiscriminator("global", inst.Name)); err != nil {
		return nil, fmt.Errorf("failed to write discriminator: %w", err)
	}
	if inst.Args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(inst.Args); err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", inst.Name, err)
		}
	}
	return buf.Bytes(), nil
}

type initializePositionArgs struct {
	LowerBinID int32
	Width      int32
}

type initializeBinArrayArgs struct {
	Index int64
}

type strategyParameters struct {
	MinBinID     int32
	MaxBinID     int32
	StrategyType uint8
	Parameteres  [64]uint8
}

type liquidityParameterByStrategy struct {
	AmountX              uint64
	AmountY              uint64
	ActiveID             int32
	MaxActiveBinSlippage int32
	StrategyParameters   strategyParameters
}

type binLiquidityReduction struct {
	BinID       int32
	BpsToRemove uint16
}

type removeLiquidityArgs struct {
	BinLiquidityRemoval []binLiquidityReduction
}

// pairAccounts are the pool-level accounts shared by every instruction.
type pairAccounts struct {
	LbPair         solana.PublicKey
	ReserveX       solana.PublicKey
	ReserveY       solana.PublicKey
	TokenXMint     solana.PublicKey
	TokenYMint     solana.PublicKey
	TokenXProgram  solana.PublicKey
	TokenYProgram  solana.PublicKey
	EventAuthority solana.PublicKey
}

// userAccounts are the signer and its token accounts.
type userAccounts struct {
	Owner      solana.PublicKey
	UserTokenX solana.PublicKey
	UserTokenY solana.PublicKey
}

func newInitializePositionInstruction(pair pairAccounts, payer, position solana.PublicKey, lowerBinID, width int32) *Instruction {
	return &Instruction{
		Name: "initialize_position",
		Args: initializePositionArgs{LowerBinID: lowerBinID, Width: width},
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(position, true, true),
			solana.NewAccountMeta(pair.LbPair, false, false),
			solana.NewAccountMeta(payer, false, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
			solana.NewAccountMeta(pair.EventAuthority, false, false),
			solana.NewAccountMeta(DLMMProgramID, false, false),
		},
	}
}

func newInitializeBinArrayInstruction(pair pairAccounts, binArray, funder solana.PublicKey, index int64) *Instruction {
	return &Instruction{
		Name: "initialize_bin_array",
		Args: initializeBinArrayArgs{Index: index},
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(pair.LbPair, false, false),
			solana.NewAccountMeta(binArray, true, false),
			solana.NewAccountMeta(funder, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
	}
}

// liquidityAccounts is the account list shared by add and remove.
func liquidityAccounts(pair pairAccounts, user userAccounts, position, binArrayLower, binArrayUpper solana.PublicKey) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(position, true, false),
		solana.NewAccountMeta(pair.LbPair, true, false),
		// bin_array_bitmap_extension: None
		solana.NewAccountMeta(DLMMProgramID, false, false),
		solana.NewAccountMeta(user.UserTokenX, true, false),
		solana.NewAccountMeta(user.UserTokenY, true, false),
		solana.NewAccountMeta(pair.ReserveX, true, false),
		solana.NewAccountMeta(pair.ReserveY, true, false),
		solana.NewAccountMeta(pair.TokenXMint, false, false),
		solana.NewAccountMeta(pair.TokenYMint, false, false),
		solana.NewAccountMeta(binArrayLower, true, false),
		solana.NewAccountMeta(binArrayUpper, true, false),
		solana.NewAccountMeta(user.Owner, false, true),
		solana.NewAccountMeta(pair.TokenXProgram, false, false),
		solana.NewAccountMeta(pair.TokenYProgram, false, false),
		solana.NewAccountMeta(pair.EventAuthority, false, false),
		solana.NewAccountMeta(DLMMProgramID, false, false),
	}
}

func newAddLiquidityByStrategyInstruction(pair pairAccounts, user userAccounts, position, binArrayLower, binArrayUpper solana.PublicKey, params liquidityParameterByStrategy) *Instruction {
	return &Instruction{
		Name:             "add_liquidity_by_strategy",
		Args:             params,
		AccountMetaSlice: liquidityAccounts(pair, user, position, binArrayLower, binArrayUpper),
	}
}

func newRemoveLiquidityInstruction(pair pairAccounts, user userAccounts, position, binArrayLower, binArrayUpper solana.PublicKey, reductions []binLiquidityReduction) *Instruction {
	return &Instruction{
		Name:             "remove_liquidity",
		Args:             removeLiquidityArgs{BinLiquidityRemoval: reductions},
		AccountMetaSlice: liquidityAccounts(pair, user, position, binArrayLower, binArrayUpper),
	}
}

func newClaimFeeInstruction(pair pairAccounts, user userAccounts, position, binArrayLower, binArrayUpper solana.PublicKey) *Instruction {
	return &Instruction{
		Name: "claim_fee",
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(pair.LbPair, true, false),
			solana.NewAccountMeta(position, true, false),
			solana.NewAccountMeta(binArrayLower, true, false),
			solana.NewAccountMeta(binArrayUpper, true, false),
			solana.NewAccountMeta(user.Owner, false, true),
			solana.NewAccountMeta(pair.ReserveX, true, false),
			solana.NewAccountMeta(pair.ReserveY, true, false),
			solana.NewAccountMeta(user.UserTokenX, true, false),
			solana.NewAccountMeta(user.UserTokenY, true, false),
			solana.NewAccountMeta(pair.TokenXMint, false, false),
			solana.NewAccountMeta(pair.TokenYMint, false, false),
			solana.NewAccountMeta(pair.TokenXProgram, false, false),
			solana.NewAccountMeta(pair.EventAuthority, false, false),
			solana.NewAccountMeta(DLMMProgramID, false, false),
		},
	}
}

func newClosePositionInstruction(pair pairAccounts, owner, position, binArrayLower, binArrayUpper solana.PublicKey) *Instruction {
	return &Instruction{
		Name: "close_position",
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(position, true, false),
			solana.NewAccountMeta(pair.LbPair, true, false),
			solana.NewAccountMeta(binArrayLower, true, false),
			solana.NewAccountMeta(binArrayUpper, true, false),
			solana.NewAccountMeta(owner, false, true),
			solana.NewAccountMeta(owner, true, false),
			solana.NewAccountMeta(pair.EventAuthority, false, false),
			solana.NewAccountMeta(DLMMProgramID, false, false),
		},
	}
}
