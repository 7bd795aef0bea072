package codec

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/tickbridge/internal/domain"
)

const bareAddress = "742d35Cc6634C0532925a3b8D4C2C4e0C8b83265"

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func TestBuildThenParse_RoundTrip(t *testing.T) {
	signer := newKey(t)
	dest := newKey(t).PublicKey()

	for _, input := range []string{bareAddress, "0x" + bareAddress} {
		t.Run(input, func(t *testing.T) {
			tx, err := BuildTransferWithMemo(signer, dest, 1_000_000, input, solana.Hash{})
			require.NoError(t, err)
			require.Len(t, tx.Signatures, 1)

			got, err := ParseTransferWithMemo(tx)
			require.NoError(t, err)
			require.NotNil(t, got)

			assert.Equal(t, signer.PublicKey(), got.Source)
			assert.Equal(t, dest, got.Destination)
			assert.Equal(t, uint64(1_000_000), got.Lamports)
			assert.Equal(t, "0x"+bareAddress, got.Address)
		})
	}
}

func TestBuild_RejectsBadAddress(t *testing.T) {
	signer := newKey(t)
	dest := newKey(t).PublicKey()

	for _, addr := range []string{"", "0x", "742d35", bareAddress + "00", "zz2d35Cc6634C0532925a3b8D4C2C4e0C8b83265"} {
		_, err := BuildTransferWithMemo(signer, dest, 1, addr, solana.Hash{})
		assert.True(t, errors.Is(err, domain.ErrInvalidAddress), "address %q: %v", addr, err)
	}
}

func TestParse_NoMatch(t *testing.T) {
	signer := newKey(t)
	from := signer.PublicKey()
	dest := newKey(t).PublicKey()
	transfer := system.NewTransferInstruction(5, from, dest).Build()
	memo := func(data string) solana.Instruction {
		return solana.NewInstruction(MemoProgramID, solana.AccountMetaSlice{}, []byte(data))
	}
	otherProgram := newKey(t).PublicKey()

	tests := []struct {
		name string
		ixs  []solana.Instruction
	}{
		{"single transfer", []solana.Instruction{transfer}},
		{"three instructions", []solana.Instruction{transfer, memo(bareAddress), memo(bareAddress)}},
		{"memo first", []solana.Instruction{memo(bareAddress), transfer}},
		{"non-memo second", []solana.Instruction{transfer, solana.NewInstruction(otherProgram, solana.AccountMetaSlice{}, []byte(bareAddress))}},
		{"invalid address memo", []solana.Instruction{transfer, memo("hello")}},
		{"non utf8 memo", []solana.Instruction{transfer, memo(string([]byte{0xff, 0xfe}))}},
		{"non-transfer system instruction", []solana.Instruction{
			system.NewAssignInstruction(otherProgram, from).Build(),
			memo(bareAddress),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := solana.NewTransaction(tt.ixs, solana.Hash{}, solana.TransactionPayer(from))
			require.NoError(t, err)

			got, err := ParseTransferWithMemo(tx)
			assert.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestParse_OutOfRangeIndexIsError(t *testing.T) {
	signer := newKey(t)
	dest := newKey(t).PublicKey()

	t.Run("account index in matching shape", func(t *testing.T) {
		tx, err := BuildTransferWithMemo(signer, dest, 7, bareAddress, solana.Hash{})
		require.NoError(t, err)
		tx.Message.Instructions[0].Accounts[1] = uint16(len(tx.Message.AccountKeys))

		got, err := ParseTransferWithMemo(tx)
		assert.Nil(t, got)
		assert.True(t, errors.Is(err, domain.ErrAccountIndexOutOfRange), "got %v", err)
	})

	t.Run("program index in otherwise unmatched shape", func(t *testing.T) {
		tx, err := solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(1, signer.PublicKey(), dest).Build()},
			solana.Hash{},
			solana.TransactionPayer(signer.PublicKey()),
		)
		require.NoError(t, err)
		tx.Message.Instructions[0].ProgramIDIndex = 200

		_, err = ParseTransferWithMemo(tx)
		assert.True(t, errors.Is(err, domain.ErrAccountIndexOutOfRange), "got %v", err)
	})
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{bareAddress, "0x" + bareAddress, false},
		{"0x" + bareAddress, "0x" + bareAddress, false},
		{"0X" + bareAddress, "", true},
		{"0x0x" + bareAddress[4:], "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := NormalizeAddress(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "normalization must be idempotent")
		})
	}
}

func TestSign_ReplacesSignatures(t *testing.T) {
	signer := newKey(t)
	dest := newKey(t).PublicKey()
	tx, err := BuildTransferWithMemo(signer, dest, 1, bareAddress, solana.Hash{})
	require.NoError(t, err)
	first := tx.Signatures[0]

	tx.Message.RecentBlockhash = solana.Hash{1}
	require.NoError(t, Sign(tx, signer))
	require.Len(t, tx.Signatures, 1)
	assert.NotEqual(t, first, tx.Signatures[0])
}
