package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newFakeRPC serves canned JSON-RPC results keyed by method name.
func newFakeRPC(t *testing.T, results map[string]string) (*httptest.Server, *[]rpcRequest) {
	t.Helper()
	var seen []rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		result, ok := results[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func testTransaction(t *testing.T) *solana.Transaction {
	t.Helper()
	payer := solana.NewWallet().PrivateKey
	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).SIGNER().WRITE(),
	}, []byte{1, 2, 3})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func TestSolanaClientImplementsConnection(t *testing.T) {
	var _ Connection = (*SolanaClient)(nil)
}

func TestGetAccountNotFoundIsEmpty(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]string{
		"getAccountInfo": `{"context":{"slot":1},"value":null}`,
	})
	client := NewSolanaClient(zap.NewNop(), srv.URL, time.Second)

	acct, err := client.GetAccount(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestGetAccountDecodesData(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]string{
		"getAccountInfo": `{"context":{"slot":1},"value":{"lamports":42,"owner":"11111111111111111111111111111111","data":["AQID","base64"],"executable":false,"rentEpoch":0}}`,
	})
	client := NewSolanaClient(zap.NewNop(), srv.URL, time.Second)

	acct, err := client.GetAccount(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, uint64(42), acct.Lamports)
	assert.Equal(t, []byte{1, 2, 3}, acct.Data)
	assert.Equal(t, solana.SystemProgramID, acct.Owner)
}

func TestSimulateReturnData(t *testing.T) {
	srv, seen := newFakeRPC(t, map[string]string{
		"simulateTransaction": `{"context":{"slot":1},"value":{"err":null,"logs":[],"returnData":{"programId":"11111111111111111111111111111111","data":["AQID","base64"]}}}`,
	})
	client := NewSolanaClient(zap.NewNop(), srv.URL, time.Second)

	data, err := client.SimulateReturnData(context.Background(), testTransaction(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	require.Len(t, req.Params, 2)
	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Params[1], &cfg))
	assert.Equal(t, false, cfg["sigVerify"])
	assert.Equal(t, true, cfg["replaceRecentBlockhash"])
	assert.Equal(t, "base64", cfg["encoding"])
}

func TestSimulateWithoutReturnData(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]string{
		"simulateTransaction": `{"context":{"slot":1},"value":{"err":null,"logs":[],"returnData":null}}`,
	})
	client := NewSolanaClient(zap.NewNop(), srv.URL, time.Second)

	data, err := client.SimulateReturnData(context.Background(), testTransaction(t))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSimulateFailureIncludesLogs(t *testing.T) {
	srv, _ := newFakeRPC(t, map[string]string{
		"simulateTransaction": `{"context":{"slot":1},"value":{"err":{"InstructionError":[0,"InvalidAccountData"]},"logs":["Program log: bad account"],"returnData":null}}`,
	})
	client := NewSolanaClient(zap.NewNop(), srv.URL, time.Second)

	_, err := client.SimulateReturnData(context.Background(), testTransaction(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad account")
	assert.NotErrorIs(t, err, ErrConnection)
}

func TestLatestBlockhash(t *testing.T) {
	want := solana.HashFromBytes(solana.NewWallet().PublicKey().Bytes())
	srv, _ := newFakeRPC(t, map[string]string{
		"getLatestBlockhash": `{"context":{"slot":1},"value":{"blockhash":"` + want.String() + `","lastValidBlockHeight":100}}`,
	})
	client := NewSolanaClient(zap.NewNop(), srv.URL, time.Second)

	got, err := client.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTransportFailureIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewSolanaClient(zap.NewNop(), url, time.Second)

	_, err := client.LatestBlockhash(context.Background())
	assert.ErrorIs(t, err, ErrConnection)

	_, err = client.GetAccount(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrConnection)
}
