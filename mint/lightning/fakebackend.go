package lightning

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const FakePreimage = "0000000000000000"

// FakeBackend settles its own invoices instantly. Used in tests and
// for running a mint without a node.
type FakeBackend struct {
	invoices []Invoice

	// PaymentErr, when set, makes SendPayment fail.
	PaymentErr error
	// Fee overrides the default fee reserve when non-zero.
	Fee uint64
}

func (fb *FakeBackend) ConnectionStatus() error { return nil }

func (fb *FakeBackend) CreateInvoice(amount uint64) (Invoice, error) {
	req, preimage, paymentHash, err := createFakeInvoice(amount)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
		Settled:        true,
		Amount:         amount,
		Expiry:         time.Now().Unix(),
	}
	fb.invoices = append(fb.invoices, invoice)

	return invoice, nil
}

func (fb *FakeBackend) InvoiceStatus(hash string) (Invoice, error) {
	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return Invoice{}, errors.New("invoice does not exist")
	}

	return fb.invoices[invoiceIdx], nil
}

// SetInvoiceSettled flips the settled flag on a stored invoice.
// Test hook for exercising the unpaid path.
func (fb *FakeBackend) SetInvoiceSettled(hash string, settled bool) {
	for i := range fb.invoices {
		if fb.invoices[i].PaymentHash == hash {
			fb.invoices[i].Settled = settled
		}
	}
}

func (fb *FakeBackend) SendPayment(request string) (PaymentStatus, error) {
	if fb.PaymentErr != nil {
		return PaymentStatus{}, fb.PaymentErr
	}

	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error decoding invoice: %v", err)
	}

	outgoingPayment := Invoice{
		PaymentRequest: request,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       FakePreimage,
		Settled:        true,
	}
	fb.invoices = append(fb.invoices, outgoingPayment)

	return PaymentStatus{Preimage: FakePreimage, Paid: true}, nil
}

func (fb *FakeBackend) FeeReserve(request string) (uint64, uint64, error) {
	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, 0, fmt.Errorf("error decoding invoice: %v", err)
	}

	amount := uint64(invoice.MSatoshi / 1000)
	if fb.Fee > 0 {
		return amount, fb.Fee, nil
	}
	return amount, feeReserve(amount), nil
}

func createFakeInvoice(amount uint64) (string, string, string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description("fake invoice"),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
