package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// Variant tags on the wire.
const (
	tagTick              uint32 = 0
	tagBatchTransactions uint32 = 1
	tagResponse          uint32 = 2
)

// Message is the closed set of IPC messages: *Tick, *BatchTransactions and *Response.
type Message interface {
	isMessage()
}

// Tick asks the server to advance the clock by one tick.
type Tick struct {
	Payload []byte
}

// BatchTransactions asks the server to sign, send and confirm Transactions
// in order. Signers are raw 64-byte ed25519 keypairs.
type BatchTransactions struct {
	Transactions []*solana.Transaction
	Signers      [][]byte
}

// Response answers every request.
type Response struct {
	Success bool
	Message string
}

func (*Tick) isMessage()              {}
func (*BatchTransactions) isMessage() {}
func (*Response) isMessage()          {}

// Encode serializes msg. Layout: u32 LE variant tag, then the variant's fields.
// Byte strings and sequences carry a u64 LE length; transactions use the
// Solana wire format, which is self-delimiting.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)

	switch m := msg.(type) {
	case *Tick:
		if err := enc.WriteUint32(tagTick, binary.LittleEndian); err != nil {
			return nil, err
		}
		if err := writeBytes(enc, m.Payload); err != nil {
			return nil, err
		}
	case *BatchTransactions:
		if err := enc.WriteUint32(tagBatchTransactions, binary.LittleEndian); err != nil {
			return nil, err
		}
		if err := enc.WriteUint64(uint64(len(m.Transactions)), binary.LittleEndian); err != nil {
			return nil, err
		}
		for i, tx := range m.Transactions {
			raw, err := marshalTransaction(tx)
			if err != nil {
				return nil, fmt.Errorf("encode transaction %d: %w", i, err)
			}
			if err := enc.WriteBytes(raw, false); err != nil {
				return nil, err
			}
		}
		if err := enc.WriteUint64(uint64(len(m.Signers)), binary.LittleEndian); err != nil {
			return nil, err
		}
		for _, s := range m.Signers {
			if err := writeBytes(enc, s); err != nil {
				return nil, err
			}
		}
	case *Response:
		if err := enc.WriteUint32(tagResponse, binary.LittleEndian); err != nil {
			return nil, err
		}
		if err := enc.WriteBool(m.Success); err != nil {
			return nil, err
		}
		if err := writeBytes(enc, []byte(m.Message)); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownMessage, msg)
	}
	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode. Trailing bytes are an error.
// Byte strings and sequences always decode as non-nil slices; a nil field
// encodes the same as an empty one.
func Decode(payload []byte) (Message, error) {
	dec := bin.NewBinDecoder(payload)

	tag, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("read tag: %w", err)
	}

	var msg Message
	switch tag {
	case tagTick:
		payload, err := readBytes(dec)
		if err != nil {
			return nil, fmt.Errorf("tick payload: %w", err)
		}
		msg = &Tick{Payload: payload}
	case tagBatchTransactions:
		m, err := decodeBatch(dec)
		if err != nil {
			return nil, err
		}
		msg = m
	case tagResponse:
		ok, err := dec.ReadBool()
		if err != nil {
			return nil, fmt.Errorf("response success: %w", err)
		}
		text, err := readBytes(dec)
		if err != nil {
			return nil, fmt.Errorf("response message: %w", err)
		}
		msg = &Response{Success: ok, Message: string(text)}
	default:
		return nil, fmt.Errorf("%w: tag %d", domain.ErrUnknownMessage, tag)
	}

	if dec.HasRemaining() {
		return nil, fmt.Errorf("%d trailing bytes after message", dec.Remaining())
	}
	return msg, nil
}

func decodeBatch(dec *bin.Decoder) (*BatchTransactions, error) {
	n, err := readLen(dec, 1)
	if err != nil {
		return nil, fmt.Errorf("transaction count: %w", err)
	}
	txs := make([]*solana.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx, err := solana.TransactionFromDecoder(dec)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	n, err = readLen(dec, 8)
	if err != nil {
		return nil, fmt.Errorf("signer count: %w", err)
	}
	signers := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		s, err := readBytes(dec)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		signers = append(signers, s)
	}
	return &BatchTransactions{Transactions: txs, Signers: signers}, nil
}

// marshalTransaction writes tx in wire format. Unsigned transactions are
// allowed: the batch server signs with a fresh blockhash anyway.
func marshalTransaction(tx *solana.Transaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	if len(tx.Signatures) > 0 {
		return tx.MarshalBinary()
	}
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	// compact-u16 zero signature count
	return append([]byte{0}, message...), nil
}

func writeBytes(enc *bin.Encoder, b []byte) error {
	if err := enc.WriteUint64(uint64(len(b)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes(b, false)
}

func readBytes(dec *bin.Decoder) ([]byte, error) {
	n, err := readLen(dec, 1)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	return dec.ReadNBytes(n)
}

// readLen reads a u64 length and rejects values that cannot fit in the
// remaining input given each element needs at least minElem bytes.
func readLen(dec *bin.Decoder, minElem int) (int, error) {
	n, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return 0, err
	}
	if n > uint64(dec.Remaining()/minElem) {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes", n, dec.Remaining())
	}
	return int(n), nil
}
