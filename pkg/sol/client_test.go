package sol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmmpilot/pkg/errs"
)

type rpcCall struct {
	ID     interface{}       `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeRPC serves JSON-RPC results keyed by method.
func fakeRPC(t *testing.T, results map[string]func() interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		result, ok := results[call.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      call.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"result":  result(),
		})
	}))
}

func TestClient_GetBalance(t *testing.T) {
	srv := fakeRPC(t, map[string]func() interface{}{
		"getBalance": func() interface{} {
			return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": 50_000_000}
		},
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, "", 0)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, client.Endpoint())

	lamports, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), lamports)
}

func TestClient_UnreachableEndpointIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(context.Background(), url, "", 10)
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, errs.KindConnection, errs.KindOf(err))
}

func TestClient_RPCErrorIsNotConnectionError(t *testing.T) {
	srv := fakeRPC(t, nil)
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, "", 0)
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.NotEqual(t, errs.KindConnection, errs.KindOf(err))
}

func TestClient_ConfirmTransactionPolls(t *testing.T) {
	var polls atomic.Int32
	srv := fakeRPC(t, map[string]func() interface{}{
		"getSignatureStatuses": func() interface{} {
			if polls.Add(1) < 3 {
				return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": []interface{}{nil}}
			}
			return map[string]interface{}{
				"context": map[string]interface{}{"slot": 9},
				"value": []interface{}{map[string]interface{}{
					"slot":               9,
					"confirmations":      nil,
					"err":                nil,
					"confirmationStatus": "confirmed",
				}},
			}
		},
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, "", 0)
	require.NoError(t, err)
	client.pollInterval = 5 * time.Millisecond

	conf, err := client.ConfirmTransaction(context.Background(), solana.Signature{7})
	require.NoError(t, err)
	assert.Nil(t, conf.Err)
	assert.Equal(t, uint64(9), conf.Slot)
	assert.Equal(t, int32(3), polls.Load())
}

func TestClient_ConfirmTransactionCarriesOnChainError(t *testing.T) {
	srv := fakeRPC(t, map[string]func() interface{}{
		"getSignatureStatuses": func() interface{} {
			return map[string]interface{}{
				"context": map[string]interface{}{"slot": 9},
				"value": []interface{}{map[string]interface{}{
					"slot":               9,
					"confirmations":      0,
					"err":                map[string]interface{}{"InstructionError": []interface{}{1, map[string]interface{}{"Custom": 6004}}},
					"confirmationStatus": "processed",
				}},
			}
		},
	})
	defer srv.Close()

	client, err := NewClient(context.Background(), srv.URL, "", 0)
	require.NoError(t, err)

	conf, err := client.ConfirmTransaction(context.Background(), solana.Signature{8})
	require.NoError(t, err)
	require.NotNil(t, conf.Err)
}

type stubWaiter struct {
	payload interface{}
	err     error
}

func (s stubWaiter) WaitSignature(ctx context.Context, signature solana.Signature) (interface{}, error) {
	return s.payload, s.err
}

func TestClient_ConfirmTransactionUsesWaiter(t *testing.T) {
	client, err := NewClient(context.Background(), "http://127.0.0.1:1", "", 0)
	require.NoError(t, err)
	client.SetSignatureWaiter(stubWaiter{payload: "boom"})

	conf, err := client.ConfirmTransaction(context.Background(), solana.Signature{9})
	require.NoError(t, err)
	assert.Equal(t, "boom", conf.Err)
}

func TestNewClient_EmptyEndpoint(t *testing.T) {
	_, err := NewClient(context.Background(), "", "", 0)
	assert.Equal(t, errs.KindConnection, errs.KindOf(err))
}

func TestRPCPool(t *testing.T) {
	pool, err := NewRPCPool(context.Background(), []string{"http://a", "http://b", "http://a"}, "", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, []string{"http://a", "http://b"}, pool.Endpoints())
	assert.Equal(t, "http://a", pool.Primary().Endpoint())


	_, err = NewRPCPool(context.Background(), nil, "", 0)
	assert.Error(t, err)
}
