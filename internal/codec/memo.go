// Package codec recognizes and builds the two-instruction
// "system transfer + address memo" transaction used for bridging.
package codec

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// MemoProgramID is the SPL memo program.
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// transfer instruction data: u32 variant + u64 lamports
const transferDataLen = 12

// ParseTransferWithMemo extracts the transfer and bound address from tx.
//
// It returns (nil, nil) for any transaction that does not have exactly the
// transfer-then-memo shape. An instruction that references an account index
// outside the account table is malformed and always yields an error wrapping
// domain.ErrAccountIndexOutOfRange.
func ParseTransferWithMemo(tx *solana.Transaction) (*domain.TransferWithMemo, error) {
	if tx == nil {
		return nil, nil
	}
	msg := &tx.Message
	if err := checkIndices(msg); err != nil {
		return nil, err
	}
	if len(msg.Instructions) != 2 {
		return nil, nil
	}

	transferIx, memoIx := msg.Instructions[0], msg.Instructions[1]

	if msg.AccountKeys[transferIx.ProgramIDIndex] != solana.SystemProgramID {
		return nil, nil
	}
	if len(transferIx.Accounts) != 2 {
		return nil, nil
	}
	lamports, ok := decodeTransfer(transferIx.Data)
	if !ok {
		return nil, nil
	}

	if msg.AccountKeys[memoIx.ProgramIDIndex] != MemoProgramID {
		return nil, nil
	}
	if !utf8.Valid(memoIx.Data) {
		return nil, nil
	}
	addr, err := NormalizeAddress(string(memoIx.Data))
	if err != nil {
		return nil, nil
	}

	return &domain.TransferWithMemo{
		Source:      msg.AccountKeys[transferIx.Accounts[0]],
		Destination: msg.AccountKeys[transferIx.Accounts[1]],
		Lamports:    lamports,
		Address:     addr,
	}, nil
}

// BuildTransferWithMemo builds and signs a transfer of lamports from signer to
// destination followed by a memo carrying the normalized address.
func BuildTransferWithMemo(
	signer solana.PrivateKey,
	destination solana.PublicKey,
	lamports uint64,
	address string,
	recentBlockhash solana.Hash,
) (*solana.Transaction, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	from := signer.PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, from, destination).Build(),
			solana.NewInstruction(MemoProgramID, solana.AccountMetaSlice{}, []byte(addr)),
		},
		recentBlockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if err := Sign(tx, signer); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign replaces any existing signatures on tx with fresh ones from signers.
func Sign(tx *solana.Transaction, signers ...solana.PrivateKey) error {
	tx.Signatures = nil
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

func checkIndices(msg *solana.Message) error {
	n := len(msg.AccountKeys)
	for i, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= n {
			return fmt.Errorf("%w: instruction %d program index %d, %d accounts", domain.ErrAccountIndexOutOfRange, i, ix.ProgramIDIndex, n)
		}
		for _, a := range ix.Accounts {
			if int(a) >= n {
				return fmt.Errorf("%w: instruction %d account index %d, %d accounts", domain.ErrAccountIndexOutOfRange, i, a, n)
			}
		}
	}
	return nil
}

func decodeTransfer(data []byte) (uint64, bool) {
	if len(data) != transferDataLen {
		return 0, false
	}
	dec := bin.NewBinDecoder(data)
	variant, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil || variant != system.Instruction_Transfer {
		return 0, false
	}
	lamports, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return 0, false
	}
	return lamports, true
}
