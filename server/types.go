package server

import (
	"time"

	"github.com/cipherpool/cipherpool/ledger"
	"github.com/cipherpool/cipherpool/oracle"
)

// Administrative request bodies. Each arrives wrapped in a signed envelope;
// the recovered signer is the acting address.

// TransferOwnershipRequest hands the owner role to another address.
type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// ProviderRequest grants or revokes submission rights for an address.
type ProviderRequest struct {
	Address string `json:"address"`
}

// PauseRequest sets the global freeze flag.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// CooldownRequest sets or, with a zero interval, removes a per-address
// cooldown override. The interval is nanoseconds on the wire.
type CooldownRequest struct {
	Address  string        `json:"address"`
	Interval time.Duration `json:"interval"`
}

// OpenBatchRequest opens the next batch. The body carries no parameters; the
// envelope proves the caller.
type OpenBatchRequest struct{}

// CloseBatchRequest seals a batch.
type CloseBatchRequest struct {
	BatchID ledger.BatchID `json:"batch_id"`
}

// SubmitRequest folds one encrypted contribution into a batch.
type SubmitRequest struct {
	BatchID    ledger.BatchID `json:"batch_id"`
	Ciphertext []byte         `json:"ciphertext"`
}

// DecryptionRequest opens the request phase of the decryption handshake for
// a sealed batch.
type DecryptionRequest struct {
	BatchID ledger.BatchID `json:"batch_id"`
}

// CallbackRequest delivers the oracle's answer. It is deliberately unsigned:
// the proof, not the HTTP caller, authenticates the answer.
type CallbackRequest struct {
	Cleartext []byte `json:"cleartext"`
	Proof     []byte `json:"proof"`
}

// StatusResponse summarizes the ledger state.
type StatusResponse struct {
	Owner            string         `json:"owner"`
	Paused           bool           `json:"paused"`
	ModelVersion     uint64         `json:"model_version"`
	CurrentBatch     ledger.BatchID `json:"current_batch"`
	TotalSubmissions uint64         `json:"total_submissions"`
}

// BatchResponse is returned when a batch is opened.
type BatchResponse struct {
	BatchID ledger.BatchID `json:"batch_id"`
}

// DecryptionTicket is returned when a decryption request is accepted.
type DecryptionTicket struct {
	RequestID oracle.RequestID `json:"request_id"`
}

// CallbackResponse reports the decoded aggregate after a valid callback.
type CallbackResponse struct {
	RequestID oracle.RequestID `json:"request_id"`
	Result    string           `json:"result"`
}

// ModelVersionResponse reports the version after a bump.
type ModelVersionResponse struct {
	ModelVersion uint64 `json:"model_version"`
}

type statusMessage struct {
	Status string `json:"status"`
}
