package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cipherpool/cipherpool/crypto"
)

// DecryptionRequest is the wire form of a request to a remote oracle.
type DecryptionRequest struct {
	Ciphertexts [][]byte    `json:"ciphertexts"`
	Callback    CallbackRef `json:"callback"`
}

// DecryptionTicket acknowledges a registered request.
type DecryptionTicket struct {
	RequestID RequestID `json:"request_id"`
}

// OracleKeyResponse carries the oracle's proof-verification key.
type OracleKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// HTTPOracle implements Oracle against a remote oracle service. Proofs are
// verified locally against the oracle's published signing key, so callers
// need no further round-trip to validate an answer.
type HTTPOracle struct {
	baseURL    string
	httpClient *http.Client
	verifyKey  crypto.PublicKey
}

// NewHTTPOracle fetches the oracle's verification key and returns a client.
func NewHTTPOracle(baseURL string) (*HTTPOracle, error) {
	o := &HTTPOracle{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	resp, err := o.httpClient.Get(baseURL + "/oracle/key")
	if err != nil {
		return nil, fmt.Errorf("fetching oracle key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("oracle key endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var keyResp OracleKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&keyResp); err != nil {
		return nil, fmt.Errorf("decoding oracle key: %w", err)
	}

	key, err := crypto.NewPublicKeyFromString(keyResp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing oracle key: %w", err)
	}

	o.verifyKey = key
	return o, nil
}

// VerificationKey returns the oracle's published signing key.
func (o *HTTPOracle) VerificationKey() crypto.PublicKey {
	return o.verifyKey
}

// RequestDecryption registers the ciphertext set with the remote oracle.
func (o *HTTPOracle) RequestDecryption(ctx context.Context, ciphertexts [][]byte, callback CallbackRef) (RequestID, error) {
	body, err := json.Marshal(&DecryptionRequest{Ciphertexts: ciphertexts, Callback: callback})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/oracle/requests", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting decryption request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("oracle returned %d: %s", resp.StatusCode, string(respBody))
	}

	var ticket DecryptionTicket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return "", fmt.Errorf("decoding ticket: %w", err)
	}
	if ticket.RequestID == "" {
		return "", fmt.Errorf("oracle returned empty request id")
	}

	return ticket.RequestID, nil
}

// VerifySignatures checks the proof against the oracle's published key.
func (o *HTTPOracle) VerifySignatures(id RequestID, cleartext, proof []byte) bool {
	return crypto.NewSignature(proof).Verify(o.verifyKey, ProofPayload(id, cleartext))
}
