package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/tickbridge/pkg/log"
)

func errEOF() error { return io.EOF }

// shortSocketPath keeps unix socket paths below the sun_path limit.
func shortSocketPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "tb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func startServer(t *testing.T, cfg ServerConfig, h Handler) *Server {
	t.Helper()
	srv := NewServer(cfg, h)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

type countingDriver struct {
	n   atomic.Int32
	err error
}

func (d *countingDriver) TriggerTick(context.Context) error {
	d.n.Add(1)
	return d.err
}

func TestServer_TickRoundTrip(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	driver := &countingDriver{}
	startServer(t, ServerConfig{SocketPath: path, Role: RoleTick, IOTimeout: time.Second}, TickHandler(driver))

	client := NewClient(path, 2*time.Second)
	for i := 0; i < 3; i++ {
		ok, msg, err := client.Tick(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "tick processed", msg)
	}
	assert.Equal(t, int32(3), driver.n.Load())
}

func TestServer_TickFailureIsResponse(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	driver := &countingDriver{err: errors.New("channels closed")}
	startServer(t, ServerConfig{SocketPath: path, Role: RoleTick}, TickHandler(driver))

	ok, msg, err := NewClient(path, time.Second).Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "channels closed")
}

func TestServer_OversizeClosesWithoutHandler(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	var calls atomic.Int32
	h := HandlerFunc(func(context.Context, Message) *Response {
		calls.Add(1)
		return &Response{Success: true}
	})
	startServer(t, ServerConfig{SocketPath: path, Role: RoleTick, MaxFrameSize: 64}, h)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 65)
	_, err = conn.Write(prefix[:])
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = ReadFrame(conn, MaxTickFrameSize)
	assert.ErrorIs(t, err, io.EOF, "server should close the connection")
	assert.Equal(t, int32(0), calls.Load())
}

func TestServer_MalformedPayloadKeepsConnection(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	driver := &countingDriver{}
	startServer(t, ServerConfig{SocketPath: path, Role: RoleTick}, TickHandler(driver))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, WriteFrame(conn, []byte{0xde, 0xad, 0xbe, 0xef, 0x00}))
	payload, err := ReadFrame(conn, MaxTickFrameSize)
	require.NoError(t, err)
	msg, err := Decode(payload)
	require.NoError(t, err)
	resp := msg.(*Response)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "deserialization error")

	// same connection still serves requests
	require.NoError(t, WriteMessage(conn, &Tick{}))
	payload, err = ReadFrame(conn, MaxTickFrameSize)
	require.NoError(t, err)
	msg, err = Decode(payload)
	require.NoError(t, err)
	assert.True(t, msg.(*Response).Success)
	assert.Equal(t, int32(1), driver.n.Load())
}

func TestServer_WrongVariantForRole(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	startServer(t, ServerConfig{SocketPath: path, Role: RoleTick}, TickHandler(&countingDriver{}))
	client := NewClient(path, time.Second)

	resp, err := client.RoundTrip(context.Background(), &BatchTransactions{})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = client.RoundTrip(context.Background(), &Response{Success: true})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "unexpected response message", resp.Message)
}

func TestServer_SocketFileLifecycle(t *testing.T) {
	path := shortSocketPath(t, "stale.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	srv := NewServer(ServerConfig{SocketPath: path}, TickHandler(&countingDriver{}))
	require.NoError(t, srv.Listen())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	require.NoError(t, srv.Close())
	require.NoError(t, <-done)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file should be removed, got %v", err)
}

func TestServer_ConcurrentConnections(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	driver := &countingDriver{}
	startServer(t, ServerConfig{SocketPath: path}, TickHandler(driver))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := NewClient(path, 2*time.Second).Tick(context.Background())
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), driver.n.Load())
}

func TestServer_IdleTimeoutClosesConnection(t *testing.T) {
	path := shortSocketPath(t, "tick.sock")
	startServer(t, ServerConfig{SocketPath: path, IOTimeout: 50 * time.Millisecond}, TickHandler(&countingDriver{}))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestClient_ConnectFailure(t *testing.T) {
	path := shortSocketPath(t, "missing.sock")
	_, _, err := NewClient(path, time.Second).Tick(context.Background())
	assert.Error(t, err)
}

type recordingRunner struct {
	mu      sync.Mutex
	txs     int
	signers []solana.PrivateKey
	err     error
}

func (r *recordingRunner) SendAndConfirmSequentially(_ context.Context, txs []*solana.Transaction, signers []solana.PrivateKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = len(txs)
	r.signers = signers
	return r.err
}

func (r *recordingRunner) seen() (int, []solana.PrivateKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs, r.signers
}

func TestServer_BatchHandler(t *testing.T) {
	alice, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	noop := log.NewNoopLogger()

	t.Run("success", func(t *testing.T) {
		path := shortSocketPath(t, "batch.sock")
		runner := &recordingRunner{}
		startServer(t, ServerConfig{SocketPath: path, Role: RoleBatch}, BatchHandler(runner, noop))

		txs := []*solana.Transaction{transferTx(t, alice, 1, false), transferTx(t, alice, 2, false)}
		ok, msg, err := NewClient(path, 2*time.Second).SendBatch(context.Background(), txs, []solana.PrivateKey{alice})
		require.NoError(t, err)
		assert.True(t, ok, msg)
		n, signers := runner.seen()
		assert.Equal(t, 2, n)
		require.Len(t, signers, 1)
		assert.Equal(t, alice.PublicKey(), signers[0].PublicKey())
	})

	t.Run("bad signer", func(t *testing.T) {
		path := shortSocketPath(t, "batch.sock")
		runner := &recordingRunner{}
		startServer(t, ServerConfig{SocketPath: path, Role: RoleBatch}, BatchHandler(runner, noop))

		resp, err := NewClient(path, time.Second).RoundTrip(context.Background(), &BatchTransactions{
			Transactions: []*solana.Transaction{transferTx(t, alice, 1, false)},
			Signers:      [][]byte{{1, 2, 3}},
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "signer parsing error")
		n, _ := runner.seen()
		assert.Equal(t, 0, n)
	})

	t.Run("runner failure", func(t *testing.T) {
		path := shortSocketPath(t, "batch.sock")
		runner := &recordingRunner{err: errors.New("transaction X failed: boom")}
		startServer(t, ServerConfig{SocketPath: path, Role: RoleBatch}, BatchHandler(runner, noop))

		ok, msg, err := NewClient(path, time.Second).SendBatch(context.Background(),
			[]*solana.Transaction{transferTx(t, alice, 1, false)}, []solana.PrivateKey{alice})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Contains(t, msg, "boom")
	})
}
