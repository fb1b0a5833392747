// Package lightning defines the payment-rail boundary and the clients
// that implement it.
package lightning

// Client interface to interact with a Lightning backend
type Client interface {
	ConnectionStatus() error
	CreateInvoice(amount uint64) (Invoice, error)
	InvoiceStatus(hash string) (Invoice, error)
	SendPayment(request string) (PaymentStatus, error)
	// FeeReserve decodes the payment request and returns the invoice
	// amount together with the fee the mint reserves for paying it.
	FeeReserve(request string) (amount uint64, fee uint64, err error)
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         int64
}

type PaymentStatus struct {
	Preimage string
	Paid     bool
}

// feeReserve is the common fee policy: 1% of the amount with a
// 2 sat floor.
func feeReserve(amount uint64) uint64 {
	fee := amount / 100
	if fee < 2 {
		fee = 2
	}
	return fee
}
