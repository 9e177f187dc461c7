package dlmm

import "github.com/gagliardetto/solana-go"

// Meteora DLMM (lb_clmm) program, same ID on mainnet-beta and devnet.
const (
	DLMM_PROGRAM_ID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

var (
	DLMMProgramID = solana.MustPublicKeyFromBase58(DLMM_PROGRAM_ID)

	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// Program limits.
const (
	MaxBinPerArray             = 70
	MaxBinLengthAllowedInOneTx = 26
	MaxClaimAllAllowed         = 2
	MaxActiveBinSlippage       = 3
	BasisPointMax              = 10000
)

// Account layouts.
const (
	LbPairMinSize = 216

	lbPairActiveIDOffset   = 76
	lbPairBinStepOffset    = 80
	lbPairStatusOffset     = 82
	lbPairTokenXMintOffset = 88
	lbPairTokenYMintOffset = 120
	lbPairReserveXOffset   = 152
	lbPairReserveYOffset   = 184

	PositionV2Size = 8120

	positionLbPairOffset   = 8
	positionOwnerOffset    = 40
	positionSharesOffset   = 72
	positionFeeInfoOffset  = 4552
	positionFeeInfoSize    = 48
	positionLowerBinOffset = 7912
	positionUpperBinOffset = 7916

	binArrayHeaderSize = 56
	binSize            = 144

	mintDecimalsOffset = 44
	mintMinSize        = 82
)

// PDA seeds.
var (
	seedBinArray        = []byte("bin_array")
	seedBitmapExtension = []byte("bitmap")
	seedEventAuthority  = []byte("__event_authority")
)
