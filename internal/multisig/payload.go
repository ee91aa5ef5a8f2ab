package multisig

import (
	"fmt"

	"github.com/crossmesh/ferry/pkg/model"
	"github.com/ethereum/go-ethereum/crypto"
)

// CanonicalDigest is the 32-byte payload every validator signs for a
// transfer. All fields that name the value movement are bound in, so a
// signature cannot be replayed onto a different transfer.
func CanonicalDigest(transfer *model.BridgeTransfer) []byte {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		transfer.ID,
		transfer.SrcChainID,
		transfer.DstChainID,
		transfer.SrcAddress,
		transfer.DstAddress,
		transfer.Asset,
		transfer.Amount.String(),
	)

	return crypto.Keccak256([]byte(payload))
}
