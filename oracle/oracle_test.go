package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherpool/cipherpool/crypto"
)

func TestLocalOracleAnswerAndVerify(t *testing.T) {
	scheme := crypto.NewAdditiveScheme()
	orc, err := NewLocalOracle(AdditiveDecryptor(scheme))
	require.NoError(t, err)

	ct := scheme.Serialize(scheme.EncryptUint64(45))
	id, err := orc.RequestDecryption(context.Background(), [][]byte{ct}, "callback://test")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cleartext, proof, err := orc.Answer(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(45), new(big.Int).SetBytes(cleartext))
	require.True(t, orc.VerifySignatures(id, cleartext, proof))
}

func TestLocalOracleFreshIDs(t *testing.T) {
	scheme := crypto.NewAdditiveScheme()
	orc, err := NewLocalOracle(AdditiveDecryptor(scheme))
	require.NoError(t, err)

	ct := scheme.Serialize(scheme.EncryptUint64(1))
	id1, err := orc.RequestDecryption(context.Background(), [][]byte{ct}, "")
	require.NoError(t, err)
	id2, err := orc.RequestDecryption(context.Background(), [][]byte{ct}, "")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestLocalOracleRejectsTamperedProof(t *testing.T) {
	scheme := crypto.NewAdditiveScheme()
	orc, err := NewLocalOracle(AdditiveDecryptor(scheme))
	require.NoError(t, err)

	ct := scheme.Serialize(scheme.EncryptUint64(10))
	id, err := orc.RequestDecryption(context.Background(), [][]byte{ct}, "")
	require.NoError(t, err)

	cleartext, proof, err := orc.Answer(id)
	require.NoError(t, err)

	// Cleartext not matching the proof fails.
	require.False(t, orc.VerifySignatures(id, big.NewInt(11).Bytes(), proof))

	// Proof replayed against a different request fails.
	id2, err := orc.RequestDecryption(context.Background(), [][]byte{ct}, "")
	require.NoError(t, err)
	require.False(t, orc.VerifySignatures(id2, cleartext, proof))

	// Unknown request fails outright.
	require.False(t, orc.VerifySignatures("req-unknown", cleartext, proof))
}

func TestLocalOracleUnknownAnswer(t *testing.T) {
	scheme := crypto.NewAdditiveScheme()
	orc, err := NewLocalOracle(AdditiveDecryptor(scheme))
	require.NoError(t, err)

	_, _, err = orc.Answer("req-missing")
	require.Error(t, err)
}

func TestLocalOracleEmptyCiphertexts(t *testing.T) {
	scheme := crypto.NewAdditiveScheme()
	orc, err := NewLocalOracle(AdditiveDecryptor(scheme))
	require.NoError(t, err)

	_, err = orc.RequestDecryption(context.Background(), nil, "")
	require.Error(t, err)
}
