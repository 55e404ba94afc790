package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/ledger"
	"github.com/cipherpool/cipherpool/oracle"
	"github.com/cipherpool/cipherpool/protocol"
	"github.com/cipherpool/cipherpool/store"
	"github.com/cipherpool/cipherpool/testutil"
)

type gatewayEnv struct {
	router   chi.Router
	ledger   *ledger.Ledger
	oracle   *oracle.LocalOracle
	scheme   *crypto.AdditiveScheme
	clock    *testutil.Clock
	journal  *store.MemoryJournal
	ownerKey crypto.PrivateKey
}

func setupGateway(t *testing.T) *gatewayEnv {
	t.Helper()

	scheme := crypto.NewAdditiveScheme()
	orc, err := oracle.NewLocalOracle(oracle.AdditiveDecryptor(scheme))
	require.NoError(t, err)

	ownerPub, ownerKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	journal := store.NewMemoryJournal()

	l, err := ledger.New(ownerPub.String(), testutil.NewTestConfig(), scheme, orc,
		ledger.WithClock(clock.Now),
		ledger.WithSink(store.Sink(journal, nil)),
	)
	require.NoError(t, err)

	router := chi.NewRouter()
	NewHandler(l, journal, nil).RegisterRoutes(router)

	return &gatewayEnv{
		router:   router,
		ledger:   l,
		oracle:   orc,
		scheme:   scheme,
		clock:    clock,
		journal:  journal,
		ownerKey: ownerKey,
	}
}

// postSigned wraps obj in a signed envelope and POSTs it.
func postSigned[T any](t *testing.T, env *gatewayEnv, path string, key crypto.PrivateKey, obj *T) *httptest.ResponseRecorder {
	t.Helper()

	signed, err := protocol.NewSigned(key, obj)
	require.NoError(t, err)
	body, err := protocol.SerializeMessage(signed)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	env.router.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, env *gatewayEnv, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	env.router.ServeHTTP(w, req)
	return w
}

func newProvider(t *testing.T, env *gatewayEnv) (string, crypto.PrivateKey) {
	t.Helper()
	pub, key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	w := postSigned(t, env, "/ledger/providers", env.ownerKey, &ProviderRequest{Address: pub.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return pub.String(), key
}

func TestGatewayGreenPath(t *testing.T) {
	env := setupGateway(t)

	// Test 1: three providers submit into batch #1.
	values := []uint64{10, 20, 15}
	for _, v := range values {
		_, key := newProvider(t, env)
		w := postSigned(t, env, "/ledger/submissions", key, &SubmitRequest{
			BatchID:    1,
			Ciphertext: env.scheme.Serialize(env.scheme.EncryptUint64(v)),
		})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := get(t, env, "/ledger/batches/1")
	require.Equal(t, http.StatusOK, w.Code)
	var info ledger.BatchInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.Active)
	assert.Equal(t, 3, info.SubmissionCount)

	// Test 2: the owner seals the batch.
	w = postSigned(t, env, "/ledger/batches/close", env.ownerKey, &CloseBatchRequest{BatchID: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Test 3: a decryption request over the sealed batch.
	w = postSigned(t, env, "/ledger/decryptions", env.ownerKey, &DecryptionRequest{BatchID: 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ticket DecryptionTicket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))
	require.NotEmpty(t, ticket.RequestID)

	// Test 4: deliver the oracle's answer through the unsigned callback.
	cleartext, proof, err := env.oracle.Answer(ticket.RequestID)
	require.NoError(t, err)

	callbackBody, err := json.Marshal(CallbackRequest{Cleartext: cleartext, Proof: proof})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/ledger/decryptions/%s/callback", ticket.RequestID), bytes.NewReader(callbackBody))
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result CallbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "45", result.Result)

	// Test 5: the request snapshot reports processed.
	w = get(t, env, fmt.Sprintf("/ledger/decryptions/%s", ticket.RequestID))
	require.Equal(t, http.StatusOK, w.Code)
	var decInfo ledger.DecryptionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decInfo))
	assert.True(t, decInfo.Processed)

	// Test 6: status and journal reflect the run.
	w = get(t, env, "/ledger/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, uint64(3), status.TotalSubmissions)

	w = get(t, env, "/ledger/events?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	var events []ledger.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, ledger.EventDecryptionCompleted, events[0].Type)
}

func TestGatewayErrorMapping(t *testing.T) {
	env := setupGateway(t)
	_, providerKey := newProvider(t, env)
	_, strangerKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// 1. Non-owner admin calls map to 403.
	w := postSigned(t, env, "/ledger/batches/close", strangerKey, &CloseBatchRequest{BatchID: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 2. Non-provider submissions map to 403.
	w = postSigned(t, env, "/ledger/submissions", strangerKey, &SubmitRequest{
		BatchID:    1,
		Ciphertext: env.scheme.Serialize(env.scheme.EncryptUint64(1)),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 3. Duplicate submission maps to 409.
	ct := env.scheme.Serialize(env.scheme.EncryptUint64(1))
	w = postSigned(t, env, "/ledger/submissions", providerKey, &SubmitRequest{BatchID: 1, Ciphertext: ct})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.clock.Advance(2 * time.Minute)
	w = postSigned(t, env, "/ledger/submissions", providerKey, &SubmitRequest{BatchID: 1, Ciphertext: ct})
	assert.Equal(t, http.StatusConflict, w.Code)

	// 4. Cooldown hits map to 429: a successful submission into a second
	// batch stamps the timestamp, throttling an immediate third.
	w = postSigned(t, env, "/ledger/batches", env.ownerKey, &OpenBatchRequest{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var batch BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	w = postSigned(t, env, "/ledger/submissions", providerKey, &SubmitRequest{BatchID: batch.BatchID, Ciphertext: ct})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postSigned(t, env, "/ledger/batches", env.ownerKey, &OpenBatchRequest{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var batch3 BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch3))
	w = postSigned(t, env, "/ledger/submissions", providerKey, &SubmitRequest{BatchID: batch3.BatchID, Ciphertext: ct})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 5. Paused ledger maps to 503.
	require.NoError(t, env.ledger.SetPaused(env.ledger.Owner(), true))
	env.clock.Advance(2 * time.Minute)
	w = postSigned(t, env, "/ledger/submissions", providerKey, &SubmitRequest{BatchID: batch3.BatchID, Ciphertext: ct})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, env.ledger.SetPaused(env.ledger.Owner(), false))

	// 6. A tampered envelope maps to 401.
	signed, err := protocol.NewSigned(providerKey, &SubmitRequest{BatchID: batch.BatchID, Ciphertext: ct})
	require.NoError(t, err)
	signed.Object.BatchID = 99
	body, err := protocol.SerializeMessage(signed)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ledger/submissions", bytes.NewReader(body))
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 7. A callback for an unknown request maps to 409 (replay path).
	callbackBody, err := json.Marshal(CallbackRequest{Cleartext: []byte{45}, Proof: []byte("junk")})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/ledger/decryptions/req-00/callback", bytes.NewReader(callbackBody))
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGatewayStaleCallback(t *testing.T) {
	env := setupGateway(t)
	_, key := newProvider(t, env)

	w := postSigned(t, env, "/ledger/submissions", key, &SubmitRequest{
		BatchID:    1,
		Ciphertext: env.scheme.Serialize(env.scheme.EncryptUint64(7)),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = postSigned(t, env, "/ledger/batches/close", env.ownerKey, &CloseBatchRequest{BatchID: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postSigned(t, env, "/ledger/decryptions", env.ownerKey, &DecryptionRequest{BatchID: 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ticket DecryptionTicket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))

	// A model version bump lands before the callback arrives.
	w = postSigned(t, env, "/ledger/model-version", env.ownerKey, &struct{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cleartext, proof, err := env.oracle.Answer(ticket.RequestID)
	require.NoError(t, err)
	callbackBody, err := json.Marshal(CallbackRequest{Cleartext: cleartext, Proof: proof})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/ledger/decryptions/%s/callback", ticket.RequestID), bytes.NewReader(callbackBody))
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
