package dlmm

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// BinArrayIndex returns the index of the bin array holding binID.
// Bin arrays hold 70 bins and are indexed by floor division.
func BinArrayIndex(binID int32) int64 {
	idx := int64(binID) / MaxBinPerArray
	if binID < 0 && int64(binID)%MaxBinPerArray != 0 {
		idx--
	}
	return idx
}

// binArrayPair returns the lower and upper bin array indexes an instruction
// touching [lowerBinID, upperBinID] must pass. The program always expects two
// distinct arrays.
func binArrayPair(lowerBinID, upperBinID int32) (int64, int64) {
	lower := BinArrayIndex(lowerBinID)
	upper := BinArrayIndex(upperBinID)
	if upper < lower+1 {
		upper = lower + 1
	}
	return lower, upper
}

func DeriveBinArray(lbPair solana.PublicKey, index int64) (solana.PublicKey, error) {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], uint64(index))
	addr, _, err := solana.FindProgramAddress([][]byte{seedBinArray, lbPair.Bytes(), le[:]}, DLMMProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bin array %d: %w", index, err)
	}
	return addr, nil
}

func DeriveBitmapExtension(lbPair solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedBitmapExtension, lbPair.Bytes()}, DLMMProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bitmap extension: %w", err)
	}
	return addr, nil
}

func DeriveEventAuthority() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedEventAuthority}, DLMMProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive event authority: %w", err)
	}
	return addr, nil
}
