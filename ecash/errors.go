package ecash

type ErrCode int

// Error represents an error to be returned by the mint
type Error struct {
	Detail string  `json:"detail"`
	Code   ErrCode `json:"code"`
}

func BuildError(detail string, code ErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Stable error codes. Callers match on Code, the Detail string is
// for humans.
const (
	StandardErrCode ErrCode = 10000
	// Never returned in a response. Used to identify internally
	// where the error originated and log appropriately.
	DBErrCode          ErrCode = 1
	PaymentRailErrCode ErrCode = 2

	InvalidProofErrCode         ErrCode = 10003
	InvalidSecretErrCode        ErrCode = 10004
	ProofAlreadyUsedErrCode     ErrCode = 11001
	InsufficientFundsErrCode    ErrCode = 11002
	ProofPendingErrCode         ErrCode = 11003
	ScriptInvalidErrCode        ErrCode = 11004
	DenominationErrCode         ErrCode = 11006
	BalanceMismatchErrCode      ErrCode = 11007
	UnknownKeysetErrCode        ErrCode = 12001
	UnknownInvoiceErrCode       ErrCode = 20001
	InvoiceNotPaidErrCode       ErrCode = 20002
	InvoiceAlreadyIssuedErrCode ErrCode = 20003
)

var (
	StandardErr             = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr            = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnknownKeysetErr        = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InvalidProofErr         = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	EmptySecretErr          = Error{Detail: "proof secret cannot be empty", Code: InvalidSecretErrCode}
	SecretTooLongErr        = Error{Detail: "proof secret exceeds maximum length", Code: InvalidSecretErrCode}
	NoProofsProvidedErr     = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofsErr      = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	DuplicateOutputsErr     = Error{Detail: "duplicate blinded messages", Code: InvalidProofErrCode}
	InvalidOutputErr        = Error{Detail: "invalid blinded message", Code: StandardErrCode}
	ProofAlreadyUsedErr     = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ProofsPendingErr        = Error{Detail: "proofs are pending in another operation", Code: ProofPendingErrCode}
	ScriptInvalidErr        = Error{Detail: "script spending condition not met", Code: ScriptInvalidErrCode}
	InvalidDenominationErr  = Error{Detail: "amount is not a supported power of two", Code: DenominationErrCode}
	InsufficientFundsErr    = Error{Detail: "amount of input proofs is below amount needed for transaction", Code: InsufficientFundsErrCode}
	BalanceMismatchErr      = Error{Detail: "input and output amounts do not balance", Code: BalanceMismatchErrCode}
	UnknownInvoiceErr       = Error{Detail: "invoice does not exist", Code: UnknownInvoiceErrCode}
	InvoiceNotPaidErr       = Error{Detail: "invoice has not been paid", Code: InvoiceNotPaidErrCode}
	InvoiceAlreadyIssuedErr = Error{Detail: "tokens already issued for invoice", Code: InvoiceAlreadyIssuedErrCode}
	OutputsOverInvoiceErr   = Error{Detail: "sum of the output amounts is greater than invoice amount", Code: StandardErrCode}
	InvalidSplitOutputsErr  = Error{Detail: "output amounts do not match the canonical split", Code: StandardErrCode}
	BlindedMessageSignedErr = Error{Detail: "blinded message already signed", Code: StandardErrCode}
)
