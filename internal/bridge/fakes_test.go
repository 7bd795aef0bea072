package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/bft-labs/tickbridge/internal/domain"
)

type statusReply struct {
	st  *domain.Status
	err error
}

// fakeChain serves scripted status replies per signature. The last reply of
// a script repeats; signatures without a script are undecided.
type fakeChain struct {
	mu        sync.Mutex
	hash      solana.Hash
	hashErr   error
	hashCalls int
	scripts   map[solana.Signature][]statusReply
	polls     map[solana.Signature]int
	// decide, when set, answers for signatures without a script.
	decide func(sig solana.Signature) (*domain.Status, error)
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		hash:    solana.Hash{42},
		scripts: map[solana.Signature][]statusReply{},
		polls:   map[solana.Signature]int{},
	}
}

func (f *fakeChain) script(sig solana.Signature, replies ...statusReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[sig] = replies
}

func (f *fakeChain) pollCount(sig solana.Signature) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[sig]
}

func (f *fakeChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashCalls++
	return f.hash, f.hashErr
}

func (f *fakeChain) Balance(context.Context, solana.PublicKey) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeChain) SignatureStatus(_ context.Context, sig solana.Signature, _ domain.Commitment) (*domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.polls[sig]
	f.polls[sig] = n + 1
	script := f.scripts[sig]
	if len(script) == 0 {
		if f.decide != nil {
			return f.decide(sig)
		}
		return nil, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].st, script[n].err
}

func (f *fakeChain) Block(context.Context, uint64) (*rpc.GetBlockResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) Slot(context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) GenesisHash(context.Context) (solana.Hash, error) { return solana.Hash{}, nil }

func (f *fakeChain) FeeForMessage(context.Context, *solana.Message) (uint64, error) { return 5000, nil }

// fakeDispatcher records dispatched transactions and returns their first
// signature.
type fakeDispatcher struct {
	mu       sync.Mutex
	sent     []*solana.Transaction
	airdrops []solana.PublicKey
	tokens   []string
	err      error
}

func (f *fakeDispatcher) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return f.record(tx, "")
}

func (f *fakeDispatcher) SubmitAuthenticated(_ context.Context, tx *solana.Transaction, token string) (solana.Signature, error) {
	return f.record(tx, token)
}

func (f *fakeDispatcher) record(tx *solana.Transaction, token string) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	f.sent = append(f.sent, tx)
	f.tokens = append(f.tokens, token)
	return tx.Signatures[0], nil
}

func (f *fakeDispatcher) RequestAirdrop(_ context.Context, to solana.PublicKey, _ uint64) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	f.airdrops = append(f.airdrops, to)
	return solana.Signature{7}, nil
}

func (f *fakeDispatcher) indexOf(sig solana.Signature) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, tx := range f.sent {
		if tx.Signatures[0] == sig {
			return i
		}
	}
	return -1
}

func (f *fakeDispatcher) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type countingTicker struct {
	mu    sync.Mutex
	ticks int
	err   error
}

func (c *countingTicker) TriggerTick(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.err
}

func (c *countingTicker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

func newKey(t interface{ Fatalf(string, ...interface{}) }) solana.PrivateKey {
	k, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	return k
}

// signedTransfer returns a transfer signed with an arbitrary blockhash.
func signedTransfer(t interface{ Fatalf(string, ...interface{}) }, from solana.PrivateKey, lamports uint64) *solana.Transaction {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from.PublicKey(), solana.SystemProgramID).Build()},
		solana.Hash{1},
		solana.TransactionPayer(from.PublicKey()),
	)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := tx.Sign(func(solana.PublicKey) *solana.PrivateKey { return &from }); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}
