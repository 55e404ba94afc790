package crypto

import (
	"encoding/hex"
	"errors"
	"math/big"
	"slices"

	"golang.org/x/crypto/sha3"
)

// Ciphertext is an opaque encrypted value. The ledger never inspects its
// contents; it only combines ciphertexts through a Scheme and serializes
// them for fingerprinting and for the decryption oracle.
type Ciphertext []byte

// Clone returns an independent copy of the ciphertext.
func (ct Ciphertext) Clone() Ciphertext {
	return Ciphertext(slices.Clone(ct))
}

// Scheme is the homomorphic-addition capability consumed by the ledger.
// Correctness of the ledger depends only on Add being associative and
// commutative and on Serialize being deterministic for a given ciphertext,
// never on the concrete encryption scheme.
type Scheme interface {
	// Zero returns the encryption of zero, used to initialize a batch
	// accumulator at open time.
	Zero() Ciphertext

	// Add homomorphically combines two ciphertexts.
	Add(a, b Ciphertext) (Ciphertext, error)

	// Serialize returns the canonical byte encoding of a ciphertext.
	Serialize(ct Ciphertext) []byte
}

// Fingerprint is a SHA3-256 digest over a serialized ciphertext set. Two
// fingerprints are equal iff the underlying encrypted state was identical
// at both capture points.
type Fingerprint [32]byte

// String returns the hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ComputeFingerprint hashes serialized ciphertexts in order.
func ComputeFingerprint(serialized ...[]byte) Fingerprint {
	h := sha3.New256()
	for _, s := range serialized {
		h.Write(s)
	}
	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// AdditiveScheme is a stand-in Scheme for tests and local deployments.
// Ciphertexts are big-endian big.Int encodings and Add is plain integer
// addition, matching the algebra the ledger assumes of a real scheme
// without providing any confidentiality.
type AdditiveScheme struct{}

// NewAdditiveScheme returns the test scheme.
func NewAdditiveScheme() *AdditiveScheme {
	return &AdditiveScheme{}
}

// Zero returns the encoding of zero.
func (s *AdditiveScheme) Zero() Ciphertext {
	return Ciphertext{}
}

// Add sums the two encoded values.
func (s *AdditiveScheme) Add(a, b Ciphertext) (Ciphertext, error) {
	if a == nil || b == nil {
		return nil, errors.New("nil ciphertext")
	}
	sum := new(big.Int).Add(new(big.Int).SetBytes(a), new(big.Int).SetBytes(b))
	return Ciphertext(sum.Bytes()), nil
}

// Serialize returns the canonical encoding. big.Int.Bytes is minimal
// big-endian, so equal values always serialize identically.
func (s *AdditiveScheme) Serialize(ct Ciphertext) []byte {
	return new(big.Int).SetBytes(ct).Bytes()
}

// Encrypt encodes a plaintext value. Only meaningful for the test scheme.
func (s *AdditiveScheme) Encrypt(value *big.Int) (Ciphertext, error) {
	if value == nil || value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	return Ciphertext(value.Bytes()), nil
}

// EncryptUint64 encodes a small plaintext value.
func (s *AdditiveScheme) EncryptUint64(value uint64) Ciphertext {
	return Ciphertext(new(big.Int).SetUint64(value).Bytes())
}

// DecryptSerialized recovers the plaintext sum from a serialized ciphertext.
// This is the capability a decryption oracle holds; the ledger never calls it.
func (s *AdditiveScheme) DecryptSerialized(serialized []byte) *big.Int {
	return new(big.Int).SetBytes(serialized)
}
