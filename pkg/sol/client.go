package sol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	jitorpc "github.com/jito-labs/jito-go-rpc"
	"golang.org/x/time/rate"

	"dlmmpilot/pkg/errs"
)

const (
	LamportsPerSol = 1_000_000_000

	defaultPollInterval = 500 * time.Millisecond
)

// SignatureWaiter waits for a signature notification and returns the
// on-chain error payload, nil on success.
type SignatureWaiter interface {
	WaitSignature(ctx context.Context, signature solana.Signature) (interface{}, error)
}

// Client wraps a Solana RPC endpoint with request rate limiting and optional
// Jito block-engine submission.
type Client struct {
	RpcClient  *rpc.Client
	JitoClient *jitorpc.JitoJsonRpcClient

	endpoint     string
	limiter      *rate.Limiter
	commitment   rpc.CommitmentType
	waiter       SignatureWaiter
	pollInterval time.Duration
}

// NewClient creates a client for endpoint. jitoRpc may be empty.
// reqLimitPerSecond <= 0 disables rate limiting.
func NewClient(ctx context.Context, endpoint string, jitoRpc string, reqLimitPerSecond int) (*Client, error) {
	if endpoint == "" {
		return nil, errs.Connection(nil, "empty RPC endpoint")
	}

	limit := rate.Inf
	burst := 1
	if reqLimitPerSecond > 0 {
		limit = rate.Limit(reqLimitPerSecond)
		burst = reqLimitPerSecond
	}

	c := &Client{
		RpcClient:    rpc.New(endpoint),
		endpoint:     endpoint,
		limiter:      rate.NewLimiter(limit, burst),
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: defaultPollInterval,
	}
	if jitoRpc != "" {
		c.JitoClient = jitorpc.NewJitoJsonRpcClient(jitoRpc, "")
	}
	return c, nil
}

// Endpoint is the identity of the network this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SetSignatureWaiter enables push-based confirmation.
func (c *Client) SetSignatureWaiter(w SignatureWaiter) {
	c.waiter = w
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Connection(err, "rate limiter")
	}
	return nil
}

// classify turns transport failures into connection errors and leaves
// JSON-RPC level errors untouched.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errs.Connection(err, "%s", op)
}

// Account is the raw state of an on-chain account.
type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

func accountFrom(address solana.PublicKey, acc *rpc.Account) *Account {
	if acc == nil {
		return nil
	}
	out := &Account{
		Address:  address,
		Owner:    acc.Owner,
		Lamports: acc.Lamports,
	}
	if acc.Data != nil {
		out.Data = acc.Data.GetBinary()
	}
	return out
}

// GetAccount returns the account at address, nil if it does not exist.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.RpcClient.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "getAccountInfo")
	}
	return accountFrom(address, out.Value), nil
}

// GetMultipleAccounts returns one entry per address, nil where missing.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses ...solana.PublicKey) ([]*Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.RpcClient.GetMultipleAccountsWithOpts(ctx, addresses, &rpc.GetMultipleAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, classify(err, "getMultipleAccounts")
	}
	accounts := make([]*Account, len(addresses))
	for i, acc := range out.Value {
		if i < len(addresses) {
			accounts[i] = accountFrom(addresses[i], acc)
		}
	}
	return accounts, nil
}

// GetProgramAccounts returns the accounts owned by program matching filters.
func (c *Client) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]*Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.RpcClient.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
		Filters:    filters,
	})
	if err != nil {
		return nil, classify(err, "getProgramAccounts")
	}
	accounts := make([]*Account, 0, len(out))
	for _, keyed := range out {
		if keyed == nil {
			continue
		}
		if acc := accountFrom(keyed.Pubkey, keyed.Account); acc != nil {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// GetBalance returns the lamport balance of account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.RpcClient.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, classify(err, "getBalance")
	}
	return out.Value, nil
}

// GetLatestBlockhash returns the latest blockhash and its last valid block height.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, 0, err
	}
	out, err := c.RpcClient.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, 0, classify(err, "getLatestBlockhash")
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

// SimulationResult is the outcome of a dry run.
type SimulationResult struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed uint64
}

// SimulateTransaction dry-runs tx without signature verification.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.RpcClient.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		Commitment:             c.commitment,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		return nil, classify(err, "simulateTransaction")
	}
	res := &SimulationResult{
		Err:  out.Value.Err,
		Logs: out.Value.Logs,
	}
	if out.Value.UnitsConsumed != nil {
		res.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return res, nil
}

// SendTransaction submits a fully signed tx, through Jito when configured.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	if c.JitoClient != nil {
		return c.sendViaJito(tx)
	}
	sig, err := c.RpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	return sig, classify(err, "sendTransaction")
}

func (c *Client) sendViaJito(tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("marshal transaction: %w", err)
	}
	params := []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]string{"encoding": "base64"},
	}
	result, err := c.JitoClient.SendTxn(params, false)
	if err != nil {
		return solana.Signature{}, errs.Connection(err, "jito sendTransaction")
	}
	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return solana.Signature{}, fmt.Errorf("decode jito signature: %w", err)
	}
	return solana.SignatureFromBase58(encoded)
}

// Confirmation is a non-error confirmation outcome. Err carries the on-chain
// error payload when the transaction landed but failed.
type Confirmation struct {
	Signature solana.Signature
	Slot      uint64
	Err       interface{}
}

// ConfirmTransaction waits until signature reaches confirmed commitment.
// It returns an error only when confirmation could not be observed.
func (c *Client) ConfirmTransaction(ctx context.Context, signature solana.Signature) (*Confirmation, error) {
	if c.waiter != nil {
		payload, err := c.waiter.WaitSignature(ctx, signature)
		if err == nil {
			return &Confirmation{Signature: signature, Err: payload}, nil
		}
		if ctx.Err() != nil {
			return nil, errs.Connection(ctx.Err(), "confirm %s", signature)
		}
		// Fall back to polling.
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		out, err := c.RpcClient.GetSignatureStatuses(ctx, true, signature)
		if err != nil {
			return nil, classify(err, "getSignatureStatuses")
		}
		if len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return &Confirmation{Signature: signature, Slot: status.Slot, Err: status.Err}, nil
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return &Confirmation{Signature: signature, Slot: status.Slot}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, errs.Connection(ctx.Err(), "confirm %s", signature)
		case <-ticker.C:
		}
	}
}
