package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/bft-labs/tickbridge/internal/auth"
	"github.com/bft-labs/tickbridge/internal/bridge"
	"github.com/bft-labs/tickbridge/internal/codec"
	"github.com/bft-labs/tickbridge/internal/engine"
	"github.com/bft-labs/tickbridge/internal/ipc"
	"github.com/bft-labs/tickbridge/internal/keys"
	"github.com/bft-labs/tickbridge/internal/ports"
	logAdapter "github.com/bft-labs/tickbridge/pkg/log"
)

// commandContext is cancelled on interrupt and bounded by the engine call
// timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := engine.WithCallTimeout(ctx)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (c *cli) engineClient() *engine.Client {
	return engine.NewClient(c.cfg.EngineURL, &http.Client{}, c.engineOptions()...)
}

// tickTarget picks the engine API or the tick socket.
func (c *cli) tickTarget(viaEngine bool) (ports.TickDriver, error) {
	if viaEngine {
		return c.upstreamDriver(c.cfg.EngineURL, nil)
	}
	if c.cfg.TickSocket == "" {
		return nil, errors.New("no tick socket configured")
	}
	return c.upstreamDriver("ipc:"+c.cfg.TickSocket, nil)
}

func (c *cli) tickCmd() *cobra.Command {
	var (
		count     int
		viaEngine bool
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Trigger ticks and wait for each to complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			driver, err := c.tickTarget(viaEngine)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			for i := 0; i < count; i++ {
				if err := driver.TriggerTick(ctx); err != nil {
					return fmt.Errorf("tick %d of %d: %w", i+1, count, err)
				}
			}
			c.log.Info().Int("count", count).Msg("ticks completed")
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of ticks")
	cmd.Flags().BoolVar(&viaEngine, "engine", false, "tick through the engine API instead of the tick socket")
	return cmd
}

func (c *cli) stepSlotCmd() *cobra.Command {
	var viaEngine bool
	cmd := &cobra.Command{
		Use:   "step-slot",
		Short: "Advance the clock by one slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			if viaEngine {
				if err := c.engineClient().StepSlot(ctx); err != nil {
					return err
				}
			} else {
				driver, err := c.tickTarget(false)
				if err != nil {
					return err
				}
				for i := uint64(0); i < c.cfg.TicksPerSlot; i++ {
					if err := driver.TriggerTick(ctx); err != nil {
						return fmt.Errorf("tick %d of %d: %w", i+1, c.cfg.TicksPerSlot, err)
					}
				}
			}
			c.log.Info().Uint64("ticks", c.cfg.TicksPerSlot).Msg("slot advanced")
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaEngine, "engine", false, "use engine_step_slot instead of the tick socket")
	return cmd
}

// loadKey reads a keygen JSON file, or returns the faucet key for "".
func loadKey(path string) (solana.PrivateKey, error) {
	if path == "" {
		return keys.Faucet(), nil
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return key, nil
}

// Transfer routes.
const (
	routeAuth   = "auth"
	routeEngine = "engine"
	routeBatch  = "batch"
)

func (c *cli) transferCmd() *cobra.Command {
	var (
		keyPath  string
		to       string
		lamports uint64
		memo     string
		via      string
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send lamports and wait until the transfer is decided",
		Long: `Send lamports and wait until the transfer is decided.

--via auth submits with a bearer token and ticks until confirmed, --via engine
hands the signed transaction to engine_send_and_confirm_tx, and --via batch
submits it as a one-transaction batch over the batch socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := loadKey(keyPath)
			if err != nil {
				return err
			}
			dest, err := solana.PublicKeyFromBase58(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			ctx, cancel := commandContext()
			defer cancel()

			client := c.rpcClient(nil)
			defer client.Close()
			blockhash, err := client.LatestBlockhash(ctx)
			if err != nil {
				return err
			}
			tx, err := buildTransfer(from, dest, lamports, memo, blockhash)
			if err != nil {
				return err
			}

			var sig solana.Signature
			switch via {
			case routeAuth:
				ticker, err := c.tickTarget(false)
				if err != nil {
					return err
				}
				confirmer := bridge.NewConfirmer(auth.NewMinter(c.cfg.AuthSecret), client, client, ticker,
					bridge.WithPolicy(bridge.RetryPolicy{MaxRetries: c.cfg.MaxRetries, PollInterval: c.cfg.PollInterval}),
					bridge.WithConfirmerLogger(logAdapter.NewZerologAdapterWithLogger(c.log)),
				)
				sig, err = confirmer.SendAndConfirm(ctx, tx)
				if err != nil {
					return err
				}
			case routeEngine:
				sig, err = c.engineClient().SendAndConfirm(ctx, tx)
				if err != nil {
					return err
				}
			case routeBatch:
				if c.cfg.BatchSocket == "" {
					return errors.New("no batch socket configured")
				}
				ok, msg, err := ipc.NewClient(c.cfg.BatchSocket, c.cfg.IOTimeout).
					SendBatch(ctx, []*solana.Transaction{tx}, []solana.PrivateKey{from})
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("batch rejected: %s", msg)
				}
				// The batch server re-signs with a fresh blockhash, so the
				// local signature is not the one that landed.
				c.log.Info().Str("result", msg).Msg("batch confirmed")
				return nil
			default:
				return fmt.Errorf("--via must be %s, %s or %s", routeAuth, routeEngine, routeBatch)
			}

			fmt.Fprintln(cmd.OutOrStdout(), sig.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "sender keygen JSON file (default: faucet key)")
	cmd.Flags().StringVar(&to, "to", "", "recipient public key")
	cmd.Flags().Uint64Var(&lamports, "lamports", 0, "amount to send")
	cmd.Flags().StringVar(&memo, "memo", "", "40-hex-character address to attach as memo")
	cmd.Flags().StringVar(&via, "via", routeAuth, "submission route: auth, engine or batch")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func buildTransfer(from solana.PrivateKey, to solana.PublicKey, lamports uint64, memo string, blockhash solana.Hash) (*solana.Transaction, error) {
	if memo != "" {
		return codec.BuildTransferWithMemo(from, to, lamports, memo, blockhash)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()},
		blockhash,
		solana.TransactionPayer(from.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if err := codec.Sign(tx, from); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *cli) airdropCmd() *cobra.Command {
	var (
		to       string
		lamports uint64
		confirm  bool
	)
	cmd := &cobra.Command{
		Use:   "airdrop",
		Short: "Request lamports from the validator faucet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := solana.PublicKeyFromBase58(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			ctx, cancel := commandContext()
			defer cancel()

			client := c.rpcClient(nil)
			defer client.Close()
			b := bridge.New(client, client,
				bridge.WithConfirmTimeout(c.cfg.ConfirmTimeout),
				bridge.WithConfirmInterval(c.cfg.ConfirmInterval),
				bridge.WithLogger(logAdapter.NewZerologAdapterWithLogger(c.log)),
			)
			sig, err := b.Airdrop(ctx, dest, lamports)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig.String())

			if !confirm {
				return nil
			}
			status := b.Confirm(ctx, sig)
			switch {
			case status == nil:
				return fmt.Errorf("airdrop %s not confirmed within %s", sig, c.cfg.ConfirmTimeout)
			case status.Err != nil:
				return fmt.Errorf("airdrop %s failed: %w", sig, status.Err)
			}
			c.log.Info().Str("signature", sig.String()).Msg("airdrop confirmed")
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient public key")
	cmd.Flags().Uint64Var(&lamports, "lamports", 1_000_000_000, "amount to request")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "wait for the airdrop to be confirmed")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// decodeTx parses a wire-format transaction in base64 or base58.
func decodeTx(payload, encoding string) (*solana.Transaction, error) {
	var (
		raw []byte
		err error
	)
	switch encoding {
	case engine.EncodingBase64:
		raw, err = base64.StdEncoding.DecodeString(payload)
	case engine.EncodingBase58:
		raw, err = base58.Decode(payload)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", encoding, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

func (c *cli) parseCmd() *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "parse <transaction>",
		Short: "Recognize a transfer-with-memo transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := decodeTx(strings.TrimSpace(args[0]), encoding)
			if err != nil {
				return err
			}
			transfer, err := codec.ParseTransferWithMemo(tx)
			if err != nil {
				return err
			}
			if transfer == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Source      string `json:"source"`
				Destination string `json:"destination"`
				Lamports    uint64 `json:"lamports"`
				Address     string `json:"address"`
			}{
				Source:      transfer.Source.String(),
				Destination: transfer.Destination.String(),
				Lamports:    transfer.Lamports,
				Address:     transfer.Address,
			})
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", engine.EncodingBase64, "payload encoding: base64 or base58")
	return cmd
}

func (c *cli) keysCmd() *cobra.Command {
	var secret bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the deterministic mint and faucet keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, k := range []struct {
				name string
				key  solana.PrivateKey
			}{
				{"mint", keys.Mint()},
				{"faucet", keys.Faucet()},
			} {
				if secret {
					fmt.Fprintf(out, "%-7s %s %s\n", k.name, k.key.PublicKey(), k.key)
					continue
				}
				fmt.Fprintf(out, "%-7s %s\n", k.name, k.key.PublicKey())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&secret, "secret", false, "also print the base58 private keys")
	return cmd
}
