// Package mint implements the ledger behind a Chaumian ecash mint:
// issuing promises against paid invoices, melting proofs to settle
// payments and splitting proofs into new denominations, while
// guaranteeing each proof is spent at most once.
package mint

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/tyler-smith/go-bip39"

	"github.com/mlbern/nutmeg/crypto"
	"github.com/mlbern/nutmeg/ecash"
	"github.com/mlbern/nutmeg/mint/lightning"
	"github.com/mlbern/nutmeg/mint/storage"
	"github.com/mlbern/nutmeg/mint/storage/bolt"
	"github.com/mlbern/nutmeg/mint/storage/sqlite"
)

type Mint struct {
	db storage.MintDB

	// all keysets, active and legacy. Legacy keysets stay around so
	// proofs issued under them keep verifying.
	keysets        map[string]*crypto.Keyset
	activeKeysetId string

	lightningClient lightning.Client
	pending         *pendingLocks
	logger          *slog.Logger
}

func LoadMint(config Config) (*Mint, error) {
	logger := setupLogger(config.LogLevel)

	db, err := openDB(config)
	if err != nil {
		return nil, fmt.Errorf("error opening storage: %v", err)
	}

	seed, err := loadOrCreateSeed(db, config.Mnemonic)
	if err != nil {
		return nil, err
	}

	activeKeyset := crypto.DeriveKeyset(seed, config.DerivationPath)

	mint := &Mint{
		db:              db,
		keysets:         map[string]*crypto.Keyset{activeKeyset.Id: activeKeyset},
		activeKeysetId:  activeKeyset.Id,
		lightningClient: config.LightningClient,
		logger:          logger,
	}

	if err := mint.loadKeysets(seed, activeKeyset); err != nil {
		return nil, err
	}

	if err := mint.lightningClient.ConnectionStatus(); err != nil {
		return nil, fmt.Errorf("error connecting to lightning backend: %v", err)
	}

	mint.pending = newPendingLocks(db, logger)
	logger.Info("mint loaded", slog.String("active_keyset", activeKeyset.Id))

	return mint, nil
}

func openDB(config Config) (storage.MintDB, error) {
	switch config.DBBackend {
	case "", "bolt":
		return bolt.InitBolt(config.MintPath)
	case "sqlite":
		return sqlite.InitSQLite(config.MintPath)
	default:
		return nil, fmt.Errorf("invalid db backend: %v", config.DBBackend)
	}
}

// loadOrCreateSeed returns the stored master seed, deriving and
// persisting one from the mnemonic on first run.
func loadOrCreateSeed(db storage.MintDB, mnemonic string) ([]byte, error) {
	if seed, err := db.GetSeed(); err == nil {
		return seed, nil
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	if err := db.SaveSeed(seed); err != nil {
		return nil, fmt.Errorf("error saving seed: %v", err)
	}
	return seed, nil
}

// loadKeysets re-derives every stored keyset from the seed and marks
// all but the active one inactive.
func (m *Mint) loadKeysets(seed []byte, activeKeyset *crypto.Keyset) error {
	stored, err := m.db.GetKeysets()
	if err != nil {
		return fmt.Errorf("error reading keysets: %v", err)
	}

	storedActive := false
	for _, dbKeyset := range stored {
		if dbKeyset.Id == activeKeyset.Id {
			storedActive = true
			continue
		}

		keyset := crypto.DeriveKeyset(seed, dbKeyset.DerivationPath)
		keyset.Active = false
		m.keysets[keyset.Id] = keyset

		if dbKeyset.Active {
			if err := m.db.UpdateKeysetActive(keyset.Id, false); err != nil {
				return err
			}
		}
	}

	if !storedActive {
		dbKeyset := storage.DBKeyset{
			Id:             activeKeyset.Id,
			Unit:           activeKeyset.Unit,
			Active:         true,
			DerivationPath: activeKeyset.DerivationPath,
		}
		if err := m.db.SaveKeyset(dbKeyset); err != nil {
			return fmt.Errorf("error saving keyset: %v", err)
		}
	}

	return nil
}

func setupLogger(level LogLevel) *slog.Logger {
	switch level {
	case Debug:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case Disable:
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
}

func (m *Mint) Close() error {
	m.pending.stop()
	return m.db.Close()
}

// resolveKeyset returns the keyset for id, or the active keyset if id
// is empty.
func (m *Mint) resolveKeyset(id string) (*crypto.Keyset, error) {
	if id == "" {
		id = m.activeKeysetId
	}
	keyset, ok := m.keysets[id]
	if !ok {
		return nil, ecash.UnknownKeysetErr
	}
	return keyset, nil
}

// KeysetPublicKeys exposes the verification keys of a keyset. An
// empty id resolves to the active keyset.
func (m *Mint) KeysetPublicKeys(keysetId string) (map[uint64]string, error) {
	keyset, err := m.resolveKeyset(keysetId)
	if err != nil {
		return nil, err
	}
	return keyset.PublicKeys(), nil
}

// KeysetIds lists all keysets the mint can verify against.
func (m *Mint) KeysetIds() []string {
	ids := make([]string, 0, len(m.keysets))
	for id := range m.keysets {
		ids = append(ids, id)
	}
	return ids
}

// RequestMint creates an invoice on the payment rail for the given
// amount and records it. Tokens are issued against it later with
// MintTokens once it is paid.
func (m *Mint) RequestMint(amount uint64) (storage.Invoice, error) {
	if amount == 0 {
		return storage.Invoice{}, ecash.BuildError("amount cannot be 0", ecash.StandardErrCode)
	}

	invoice, err := m.lightningClient.CreateInvoice(amount)
	if err != nil {
		m.logError("error creating invoice", err)
		return storage.Invoice{}, ecash.BuildError("unable to create invoice", ecash.PaymentRailErrCode)
	}

	dbInvoice := storage.Invoice{
		Amount:         amount,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		Issued:         false,
	}
	if err := m.db.SaveInvoice(dbInvoice); err != nil {
		m.logError("error saving invoice", err)
		return storage.Invoice{}, ecash.StandardErr
	}

	return dbInvoice, nil
}

// MintTokens issues promises against a paid invoice. The issued flag
// flips before the payment-status check so a concurrent duplicate
// request cannot double-issue; it is reverted only on the not-paid
// path, never on already-issued.
func (m *Mint) MintTokens(invoiceHash string, blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, error) {
	invoice, err := m.db.GetInvoice(invoiceHash)
	if err != nil {
		return nil, ecash.UnknownInvoiceErr
	}
	if invoice.Issued {
		return nil, ecash.InvoiceAlreadyIssuedErr
	}

	if len(blindedMessages) == 0 {
		return nil, ecash.EmptyBodyErr
	}
	if ecash.CheckDuplicateBlindedMessages(blindedMessages) {
		return nil, ecash.DuplicateOutputsErr
	}
	for _, msg := range blindedMessages {
		if !ecash.IsPowerOfTwo(msg.Amount) {
			return nil, ecash.InvalidDenominationErr
		}
	}
	if blindedMessages.Amount() > invoice.Amount {
		return nil, ecash.OutputsOverInvoiceErr
	}
	// every point must parse before the issued flag flips, otherwise
	// a bad output would burn the invoice
	if err := checkBlindedMessages(blindedMessages); err != nil {
		return nil, err
	}

	if err := m.db.UpdateInvoiceIssued(invoiceHash, true); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ecash.InvoiceAlreadyIssuedErr
		}
		m.logError("error updating invoice", err)
		return nil, ecash.StandardErr
	}

	status, err := m.lightningClient.InvoiceStatus(invoice.PaymentHash)
	if err != nil || !status.Settled {
		// invoice remains mintable once it does get paid
		if revertErr := m.db.UpdateInvoiceIssued(invoiceHash, false); revertErr != nil {
			m.logError("error reverting invoice issued flag", revertErr)
		}
		if err != nil {
			m.logError("error checking invoice status", err)
			return nil, ecash.BuildError("unable to check invoice status", ecash.PaymentRailErrCode)
		}
		return nil, ecash.InvoiceNotPaidErr
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	return blindedSignatures, nil
}

// MeltTokens redeems proofs to pay an external invoice. Inputs must
// cover the invoice amount plus the rail's fee reserve. Payment runs
// before invalidation: a failed payment leaves the proofs spendable,
// and a failed invalidation after payment keeps the proofs locked
// until swept by an operator rather than re-marking them unspent.
func (m *Mint) MeltTokens(proofs ecash.Proofs, request string) (bool, string, error) {
	if err := m.pending.acquire(proofs); err != nil {
		return false, "", err
	}
	keepPending := false
	defer func() {
		if !keepPending {
			m.pending.release(proofs)
		}
	}()

	if err := m.verifyProofs(proofs); err != nil {
		return false, "", err
	}

	if _, err := decodepay.Decodepay(request); err != nil {
		return false, "", ecash.BuildError(fmt.Sprintf("invalid invoice: %v", err), ecash.StandardErrCode)
	}

	invoiceAmount, feeReserve, err := m.lightningClient.FeeReserve(request)
	if err != nil {
		m.logError("error getting fee reserve", err)
		return false, "", ecash.BuildError("unable to estimate fees", ecash.PaymentRailErrCode)
	}

	if proofs.Amount() < invoiceAmount+feeReserve {
		return false, "", ecash.InsufficientFundsErr
	}

	payment, err := m.lightningClient.SendPayment(request)
	if err != nil {
		m.logError("error paying invoice", err)
		return false, "", ecash.BuildError("unable to pay invoice", ecash.PaymentRailErrCode)
	}

	if err := m.db.SaveUsedSecrets(proofs.Secrets()); err != nil {
		// payment went through but the proofs could not be marked
		// spent. Keep them locked in the pending set so they cannot
		// be melted again.
		keepPending = true
		m.logError("error invalidating proofs after payment", err)
		return false, "", ecash.StandardErr
	}

	return payment.Paid, payment.Preimage, nil
}

// Split exchanges input proofs for new promises partitioned into
// (total - amount) and amount. The output denominations must equal
// the canonical decomposition of the first sub-total followed by the
// canonical decomposition of the second.
func (m *Mint) Split(proofs ecash.Proofs, amount uint64, blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, ecash.BlindedSignatures, error) {
	if err := m.pending.acquire(proofs); err != nil {
		return nil, nil, err
	}
	defer m.pending.release(proofs)

	if err := m.verifyProofs(proofs); err != nil {
		return nil, nil, err
	}

	totalInput := proofs.Amount()
	if amount > totalInput {
		return nil, nil, ecash.InsufficientFundsErr
	}
	if ecash.CheckDuplicateBlindedMessages(blindedMessages) {
		return nil, nil, ecash.DuplicateOutputsErr
	}

	changeAmounts := ecash.AmountSplit(totalInput - amount)
	sendAmounts := ecash.AmountSplit(amount)
	if len(blindedMessages) != len(changeAmounts)+len(sendAmounts) {
		return nil, nil, ecash.InvalidSplitOutputsErr
	}
	for i, msg := range blindedMessages {
		var expected uint64
		if i < len(changeAmounts) {
			expected = changeAmounts[i]
		} else {
			expected = sendAmounts[i-len(changeAmounts)]
		}
		if msg.Amount != expected {
			return nil, nil, ecash.InvalidSplitOutputsErr
		}
	}
	// every point must parse before the inputs are invalidated,
	// otherwise a bad output would burn them
	if err := checkBlindedMessages(blindedMessages); err != nil {
		return nil, nil, err
	}

	if err := m.db.SaveUsedSecrets(proofs.Secrets()); err != nil {
		m.logError("error invalidating proofs", err)
		return nil, nil, ecash.StandardErr
	}

	changePromises, err := m.signBlindedMessages(blindedMessages[:len(changeAmounts)])
	if err != nil {
		return nil, nil, err
	}
	sendPromises, err := m.signBlindedMessages(blindedMessages[len(changeAmounts):])
	if err != nil {
		return nil, nil, err
	}

	// conservation recheck. A mismatch here is a logic defect, not
	// a caller error.
	if changePromises.Amount()+sendPromises.Amount() != totalInput {
		m.logger.Error("balance mismatch after signing split outputs",
			slog.Uint64("input", totalInput),
			slog.Uint64("output", changePromises.Amount()+sendPromises.Amount()))
		return nil, nil, ecash.BalanceMismatchErr
	}

	return changePromises, sendPromises, nil
}

// CheckSpendable reports, per proof, whether its secret is absent
// from the used-secret set. Non-mutating.
func (m *Mint) CheckSpendable(proofs ecash.Proofs) ([]bool, error) {
	used, err := m.db.GetUsedSecrets(proofs.Secrets())
	if err != nil {
		m.logError("error checking used secrets", err)
		return nil, ecash.StandardErr
	}

	spendable := make([]bool, len(proofs))
	for i, proof := range proofs {
		spendable[i] = !used[proof.Secret]
	}
	return spendable, nil
}

func (m *Mint) logError(msg string, err error) {
	m.logger.Error(msg, slog.String("error", err.Error()))
}
