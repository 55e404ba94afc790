package oracle_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/oracle"
	"github.com/cipherpool/cipherpool/tdx"
)

type recordedCallback struct {
	requestID string
	cleartext []byte
	proof     []byte
}

// stubGateway records callback deliveries the way the ledger gateway would.
type stubGateway struct {
	mu       sync.Mutex
	received []recordedCallback
	done     chan struct{}
}

func newStubGateway() *stubGateway {
	return &stubGateway{done: make(chan struct{}, 1)}
}

func (g *stubGateway) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Path shape: /ledger/decryptions/{id}/callback
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		var payload struct {
			Cleartext []byte `json:"cleartext"`
			Proof     []byte `json:"proof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		g.mu.Lock()
		g.received = append(g.received, recordedCallback{
			requestID: parts[len(parts)-2],
			cleartext: payload.Cleartext,
			proof:     payload.Proof,
		})
		g.mu.Unlock()
		g.done <- struct{}{}

		w.WriteHeader(http.StatusOK)
	}
}

func (g *stubGateway) waitForCallback(t *testing.T) recordedCallback {
	t.Helper()
	select {
	case <-g.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no callback delivered")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.received)
	return g.received[len(g.received)-1]
}

func setupService(t *testing.T) (*httptest.Server, *oracle.LocalOracle) {
	t.Helper()

	scheme := crypto.NewAdditiveScheme()
	orc, err := oracle.NewLocalOracle(oracle.AdditiveDecryptor(scheme))
	require.NoError(t, err)

	router := chi.NewRouter()
	oracle.NewService(orc, &tdx.DummyProvider{}, nil).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, orc
}

func TestServiceEndToEnd(t *testing.T) {
	srv, _ := setupService(t)
	scheme := crypto.NewAdditiveScheme()

	gateway := newStubGateway()
	gatewaySrv := httptest.NewServer(gateway.handler())
	defer gatewaySrv.Close()

	// The remote client fetches the verification key on construction.
	client, err := oracle.NewHTTPOracle(srv.URL)
	require.NoError(t, err)

	ciphertexts := [][]byte{
		scheme.Serialize(scheme.EncryptUint64(10)),
		scheme.Serialize(scheme.EncryptUint64(20)),
		scheme.Serialize(scheme.EncryptUint64(15)),
	}
	callback := oracle.CallbackRef(gatewaySrv.URL + "/ledger/decryptions")

	id, err := client.RequestDecryption(context.Background(), ciphertexts, callback)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The service answers in the background and posts to the callback.
	delivered := gateway.waitForCallback(t)
	assert.Equal(t, string(id), delivered.requestID)
	assert.Equal(t, []byte{45}, delivered.cleartext)

	// The delivered proof verifies against the published key.
	assert.True(t, client.VerifySignatures(id, delivered.cleartext, delivered.proof))
	assert.False(t, client.VerifySignatures(id, []byte{46}, delivered.proof))
}

func TestServiceRejectsEmptyRequest(t *testing.T) {
	srv, _ := setupService(t)

	client, err := oracle.NewHTTPOracle(srv.URL)
	require.NoError(t, err)

	_, err = client.RequestDecryption(context.Background(), nil, "")
	require.Error(t, err)
}

func TestServiceAttestation(t *testing.T) {
	srv, orc := setupService(t)

	resp, err := http.Get(srv.URL + "/oracle/attestation")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	quote, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// The dummy provider echoes the report data, which binds the oracle's
	// verification key.
	expected := tdx.ReportDataForKey(orc.PublicKey())
	assert.Equal(t, expected[:], quote)
}
