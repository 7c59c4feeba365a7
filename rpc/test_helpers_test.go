package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"payai/core"
	"payai/core/types"
	"payai/storage"
)

const testNetwork = "payai-test"

type testSigner struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
}

func newTestSigner(t *testing.T) testSigner {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	return testSigner{key: key, addr: addr}
}

func (s testSigner) instruction(t *testing.T, kind types.InstructionType, mutate func(*types.Instruction)) *types.Instruction {
	t.Helper()
	ins := types.NewInstruction(testNetwork, kind)
	if mutate != nil {
		mutate(ins)
	}
	require.NoError(t, ins.Sign(s.key))
	return ins
}

type testEnv struct {
	server *httptest.Server
	node   *core.Node
	admin  testSigner
}

func newTestEnv(t *testing.T, genesis map[[20]byte]uint64, cfg ServerConfig) *testEnv {
	t.Helper()
	return newLoggedTestEnv(t, genesis, cfg, nil)
}

func newLoggedTestEnv(t *testing.T, genesis map[[20]byte]uint64, cfg ServerConfig, logger *slog.Logger) *testEnv {
	t.Helper()
	admin := newTestSigner(t)
	node, err := core.NewNode(storage.NewMemDB(), admin.addr, core.NodeOptions{
		Network:      testNetwork,
		MaxSkew:      time.Minute,
		ReplayWindow: 10 * time.Minute,
		Genesis:      genesis,
	})
	require.NoError(t, err)
	t.Cleanup(node.Close)
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 6000
		cfg.Burst = 1000
	}
	srv := httptest.NewServer(NewServer(node, cfg, logger).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, node: node, admin: admin}
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (e *testEnv) call(t *testing.T, method string, params ...interface{}) (int, rawResponse) {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	require.NoError(t, err)
	return e.post(t, body)
}

func (e *testEnv) post(t *testing.T, body []byte) (int, rawResponse) {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out rawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}
