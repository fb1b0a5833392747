package storage

import "errors"

// ErrAlreadyExists is returned by conditional inserts when a key is
// already present. Backends must map their native conflict errors to
// it so callers can distinguish contention from storage failure.
var ErrAlreadyExists = errors.New("already exists")

// MintDB is the durable store behind the ledger. Implementations must
// commit each call atomically: batch inserts either apply fully or
// not at all.
type MintDB interface {
	SaveSeed([]byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	// SavePromise fails with ErrAlreadyExists if the blinded point
	// was signed before.
	SavePromise(DBPromise) error
	GetPromise(B_ string) (DBPromise, error)

	// Used secrets are append-only. SaveUsedSecrets applies the
	// whole batch or nothing.
	SaveUsedSecrets(secrets []string) error
	GetUsedSecrets(secrets []string) (map[string]bool, error)

	// AddPendingSecrets inserts every secret or, if any is already
	// pending, inserts none and returns ErrAlreadyExists.
	AddPendingSecrets(secrets []string) error
	DeletePendingSecrets(secrets []string) error
	GetPendingSecrets() ([]string, error)

	SaveInvoice(Invoice) error
	GetInvoice(paymentHash string) (Invoice, error)
	// UpdateInvoiceIssued is a test-and-set: flipping the flag to a
	// value it already holds returns ErrAlreadyExists. This is the
	// advisory single-issuance lock on an invoice.
	UpdateInvoiceIssued(paymentHash string, issued bool) error

	Close() error
}

type DBKeyset struct {
	Id             string
	Unit           string
	Active         bool
	DerivationPath string
}

// DBPromise is the audit record of an issued blind signature.
type DBPromise struct {
	B_       string
	C_       string
	KeysetId string
	Amount   uint64
}

type Invoice struct {
	Amount         uint64
	PaymentRequest string
	PaymentHash    string
	Issued         bool
}
