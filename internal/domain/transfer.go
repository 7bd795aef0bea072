package domain

import "github.com/gagliardetto/solana-go"

// TransferWithMemo is a value transfer bound to an address on another ledger.
type TransferWithMemo struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Lamports    uint64
	// Address is always 0x-prefixed.
	Address string
}
