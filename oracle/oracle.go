// Package oracle defines the decryption-oracle capability consumed by the
// ledger and provides two implementations: LocalOracle for tests and
// single-process deployments, and HTTPOracle for a remote oracle service.
//
// The oracle converts a ciphertext set into a proven plaintext result,
// asynchronously: the ledger obtains a request id up front and the answer
// arrives an unbounded time later through the ledger's callback entry point.
// The answer's authenticity is established by the proof, not by who
// delivers it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/cipherpool/cipherpool/crypto"
)

// RequestID uniquely identifies a decryption request. Ids are assigned by
// the oracle, never by the ledger.
type RequestID string

// CallbackRef tells the oracle where to deliver the answer. For the HTTP
// topology this is the ledger gateway's callback URL; for in-process use it
// is informational only.
type CallbackRef string

// Oracle is the external decryption capability.
type Oracle interface {
	// RequestDecryption registers a ciphertext set for decryption and
	// returns a fresh request id. Fire-and-forget: the cleartext arrives
	// later via the callback entry point.
	RequestDecryption(ctx context.Context, ciphertexts [][]byte, callback CallbackRef) (RequestID, error)

	// VerifySignatures reports whether proof authenticates cleartext as the
	// decryption of the ciphertext set registered under id.
	VerifySignatures(id RequestID, cleartext, proof []byte) bool
}

// Decryptor recovers the plaintext sum of a serialized ciphertext set.
// Only the oracle holds this capability.
type Decryptor func(ciphertexts [][]byte) (*big.Int, error)

// AdditiveDecryptor builds a Decryptor over the test scheme: each
// serialized ciphertext decodes to an integer and the result is their sum.
func AdditiveDecryptor(scheme *crypto.AdditiveScheme) Decryptor {
	return func(ciphertexts [][]byte) (*big.Int, error) {
		sum := new(big.Int)
		for _, ct := range ciphertexts {
			sum.Add(sum, scheme.DecryptSerialized(ct))
		}
		return sum, nil
	}
}

type pendingRequest struct {
	ciphertexts [][]byte
	callback    CallbackRef
	answered    bool
}

// LocalOracle is an in-process oracle. It assigns request ids, decrypts via
// an injected Decryptor, and signs each answer with an Ed25519 key so the
// ledger can verify proofs.
type LocalOracle struct {
	mu      sync.Mutex
	next    uint64
	pending map[RequestID]*pendingRequest

	decrypt    Decryptor
	signingKey crypto.PrivateKey
	publicKey  crypto.PublicKey
}

// NewLocalOracle creates a local oracle with a fresh signing key.
func NewLocalOracle(decrypt Decryptor) (*LocalOracle, error) {
	_, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return NewLocalOracleWithKey(decrypt, priv)
}

// NewLocalOracleWithKey creates a local oracle signing proofs with the given
// key, keeping the oracle's identity stable across restarts.
func NewLocalOracleWithKey(decrypt Decryptor, signingKey crypto.PrivateKey) (*LocalOracle, error) {
	if decrypt == nil {
		return nil, errors.New("decryptor cannot be nil")
	}
	pub, err := signingKey.PublicKey()
	if err != nil {
		return nil, err
	}
	return &LocalOracle{
		pending:    make(map[RequestID]*pendingRequest),
		decrypt:    decrypt,
		signingKey: signingKey,
		publicKey:  pub,
	}, nil
}

// PublicKey returns the oracle's proof-verification key.
func (o *LocalOracle) PublicKey() crypto.PublicKey {
	return o.publicKey
}

// RequestDecryption registers the ciphertext set and returns a fresh id.
func (o *LocalOracle) RequestDecryption(_ context.Context, ciphertexts [][]byte, callback CallbackRef) (RequestID, error) {
	if len(ciphertexts) == 0 {
		return "", errors.New("empty ciphertext set")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.next++
	id := RequestID(fmt.Sprintf("req-%016x", o.next))
	o.pending[id] = &pendingRequest{ciphertexts: ciphertexts, callback: callback}
	return id, nil
}

// Answer decrypts the ciphertext set registered under id and returns the
// cleartext with a proof binding it to the request. Answering is
// repeatable: the oracle may retry delivery with the same payload.
func (o *LocalOracle) Answer(id RequestID) (cleartext, proof []byte, err error) {
	o.mu.Lock()
	req, ok := o.pending[id]
	o.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown request %s", id)
	}

	result, err := o.decrypt(req.ciphertexts)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting request %s: %w", id, err)
	}

	cleartext = result.Bytes()
	sig, err := crypto.Sign(o.signingKey, ProofPayload(id, cleartext))
	if err != nil {
		return nil, nil, err
	}

	o.mu.Lock()
	req.answered = true
	o.mu.Unlock()

	return cleartext, sig.Bytes(), nil
}

// Callback returns the callback reference registered with a request.
func (o *LocalOracle) Callback(id RequestID) (CallbackRef, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.pending[id]
	if !ok {
		return "", false
	}
	return req.callback, true
}

// VerifySignatures checks the proof signature over (id, cleartext).
func (o *LocalOracle) VerifySignatures(id RequestID, cleartext, proof []byte) bool {
	o.mu.Lock()
	_, known := o.pending[id]
	o.mu.Unlock()
	if !known {
		return false
	}
	return crypto.NewSignature(proof).Verify(o.publicKey, ProofPayload(id, cleartext))
}

// ProofPayload is the canonical byte string an oracle signs: the request id
// followed by the cleartext. Binding the id into the payload prevents a
// valid proof from being replayed against a different request.
func ProofPayload(id RequestID, cleartext []byte) []byte {
	payload := make([]byte, 0, len(id)+len(cleartext))
	payload = append(payload, []byte(id)...)
	return append(payload, cleartext...)
}
