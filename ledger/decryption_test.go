package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherpool/cipherpool/ledger"
	"github.com/cipherpool/cipherpool/oracle"
	"github.com/cipherpool/cipherpool/testutil"
)

// sealBatchWithSum fills batch #1 with the given values and closes it.
func sealBatchWithSum(t *testing.T, env *testEnv, values []uint64) {
	t.Helper()
	addrs := testutil.GenerateTestAddresses(len(values))
	env.submitAll(t, 1, addrs, values)
	require.NoError(t, env.ledger.CloseBatch(env.owner, 1))
}

// requestAndAnswer runs the request phase and fetches the oracle's signed
// answer for it.
func requestAndAnswer(t *testing.T, env *testEnv) (oracle.RequestID, []byte, []byte) {
	t.Helper()
	requestID, err := env.ledger.RequestDecryption(context.Background(), env.owner, 1)
	require.NoError(t, err)
	cleartext, proof, err := env.oracle.Answer(requestID)
	require.NoError(t, err)
	return requestID, cleartext, proof
}

func TestDecryptionRoundTrip(t *testing.T) {
	env := setupTestLedger(t)

	// Three providers contribute 10, 20 and 15; the sealed aggregate
	// decrypts to 45.
	sealBatchWithSum(t, env, []uint64{10, 20, 15})

	requestID, cleartext, proof := requestAndAnswer(t, env)

	result, err := env.ledger.CompleteDecryption(requestID, cleartext, proof)
	require.NoError(t, err)
	require.Equal(t, "45", result.String())

	info, err := env.ledger.Request(requestID)
	require.NoError(t, err)
	require.True(t, info.Processed)
	require.Equal(t, ledger.BatchID(1), info.BatchID)
	require.Equal(t, uint64(1), info.VersionAtRequest)
	require.Equal(t, env.owner, info.Requester)
	require.NotEmpty(t, info.Fingerprint)

	ev, ok := env.events.LastOfType(ledger.EventDecryptionCompleted)
	require.True(t, ok)
	require.Equal(t, requestID, ev.RequestID)
	require.Equal(t, "45", ev.PlaintextResult)
}

func TestRequestDecryptionPreconditions(t *testing.T) {
	env := setupTestLedger(t)
	addr := testutil.GenerateTestAddresses(1)[0]
	require.NoError(t, env.ledger.AddProvider(env.owner, addr))
	require.NoError(t, env.ledger.Submit(addr, 1, env.scheme.EncryptUint64(10)))

	// An active batch has no stable aggregate yet.
	_, err := env.ledger.RequestDecryption(context.Background(), env.owner, 1)
	require.ErrorIs(t, err, ledger.ErrBatchClosed)

	// An empty batch has no aggregate at all, sealed or not.
	id, err := env.ledger.OpenBatch(env.owner)
	require.NoError(t, err)
	require.NoError(t, env.ledger.CloseBatch(env.owner, id))
	_, err = env.ledger.RequestDecryption(context.Background(), env.owner, id)
	require.ErrorIs(t, err, ledger.ErrInvalidRequest)

	// Unknown batches are indistinguishable from empty ones.
	_, err = env.ledger.RequestDecryption(context.Background(), env.owner, 42)
	require.ErrorIs(t, err, ledger.ErrInvalidRequest)

	// The pause freeze covers decryption requests too.
	require.NoError(t, env.ledger.CloseBatch(env.owner, 1))
	require.NoError(t, env.ledger.SetPaused(env.owner, true))
	_, err = env.ledger.RequestDecryption(context.Background(), env.owner, 1)
	require.ErrorIs(t, err, ledger.ErrPaused)

	require.NoError(t, env.ledger.SetPaused(env.owner, false))
	_, err = env.ledger.RequestDecryption(context.Background(), env.owner, 1)
	require.NoError(t, err)
}

func TestCallbackReplayRejected(t *testing.T) {
	env := setupTestLedger(t)
	sealBatchWithSum(t, env, []uint64{10, 20, 15})

	requestID, cleartext, proof := requestAndAnswer(t, env)

	_, err := env.ledger.CompleteDecryption(requestID, cleartext, proof)
	require.NoError(t, err)

	// The identical, correctly-proven callback is refused the second time:
	// completion is final.
	_, err = env.ledger.CompleteDecryption(requestID, cleartext, proof)
	require.ErrorIs(t, err, ledger.ErrReplayDetected)

	// Unknown request ids take the same path.
	_, err = env.ledger.CompleteDecryption("req-ffffffffffffffff", cleartext, proof)
	require.ErrorIs(t, err, ledger.ErrReplayDetected)
}

func TestCallbackStaleAfterVersionBump(t *testing.T) {
	env := setupTestLedger(t)
	sealBatchWithSum(t, env, []uint64{10, 20, 15})

	requestID, cleartext, proof := requestAndAnswer(t, env)

	// The bump lands between request and callback. The proof is still
	// valid, but the answer was computed under superseded rules.
	_, err := env.ledger.BumpModelVersion(env.owner)
	require.NoError(t, err)

	_, err = env.ledger.CompleteDecryption(requestID, cleartext, proof)
	require.ErrorIs(t, err, ledger.ErrStaleWrite)

	// The request stays pending, permanently unanswerable at this version.
	info, err := env.ledger.Request(requestID)
	require.NoError(t, err)
	require.False(t, info.Processed)
}

func TestCallbackInvalidProofRejected(t *testing.T) {
	env := setupTestLedger(t)
	sealBatchWithSum(t, env, []uint64{10, 20, 15})

	requestID, cleartext, proof := requestAndAnswer(t, env)

	// Tampered cleartext no longer matches the signed payload.
	_, err := env.ledger.CompleteDecryption(requestID, []byte("46"), proof)
	require.ErrorIs(t, err, ledger.ErrInvalidDecryption)

	// Tampered proof fails verification outright.
	badProof := append([]byte(nil), proof...)
	badProof[0] ^= 0xff
	_, err = env.ledger.CompleteDecryption(requestID, cleartext, badProof)
	require.ErrorIs(t, err, ledger.ErrInvalidDecryption)

	// A rejected callback leaves the request pending; the genuine answer
	// still completes it.
	result, err := env.ledger.CompleteDecryption(requestID, cleartext, proof)
	require.NoError(t, err)
	require.Equal(t, "45", result.String())
}

func TestCallbackProofNotTransferable(t *testing.T) {
	env := setupTestLedger(t)
	sealBatchWithSum(t, env, []uint64{10, 20, 15})

	firstID, cleartext, proof := requestAndAnswer(t, env)

	// A second request over the same sealed batch gets its own id; the
	// first request's proof does not carry over.
	env.clock.Advance(testutil.NewTestConfig().MinInterval)
	secondID, err := env.ledger.RequestDecryption(context.Background(), env.owner, 1)
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)

	_, err = env.ledger.CompleteDecryption(secondID, cleartext, proof)
	require.ErrorIs(t, err, ledger.ErrInvalidDecryption)

	// Each request completes only with its own answer.
	_, err = env.ledger.CompleteDecryption(firstID, cleartext, proof)
	require.NoError(t, err)

	cleartext2, proof2, err := env.oracle.Answer(secondID)
	require.NoError(t, err)
	result, err := env.ledger.CompleteDecryption(secondID, cleartext2, proof2)
	require.NoError(t, err)
	require.Equal(t, "45", result.String())
}

func TestRequestSnapshotUnknownID(t *testing.T) {
	env := setupTestLedger(t)

	_, err := env.ledger.Request("req-0000000000000000")
	require.ErrorIs(t, err, ledger.ErrInvalidRequest)
}
