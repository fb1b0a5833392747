// Package ecash contains the core structs and logic
// of the mint's token protocol.
package ecash

// MaxSecretLength bounds proof secrets to keep verification cheap.
const MaxSecretLength = 64

// BlindedMessage is a denomination plus a blinded curve point supplied
// by a redeemer. It is ephemeral and never persisted as-is.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
	Id     string `json:"id,omitempty"`
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, msg := range bm {
		totalAmount += msg.Amount
	}
	return totalAmount
}

// BlindedSignature is a promise: the mint's blind signature over a
// blinded message, not yet unblinded by the holder.
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, sig := range bs {
		totalAmount += sig.Amount
	}
	return totalAmount
}

// Proof is a redeemable token: a secret plus the unblinded signature
// over it. Script and ScriptSignature carry the witness for
// pay-to-script secrets.
type Proof struct {
	Amount          uint64 `json:"amount"`
	Id              string `json:"id,omitempty"`
	Secret          string `json:"secret"`
	C               string `json:"C"`
	Script          string `json:"script,omitempty"`
	ScriptSignature string `json:"script_signature,omitempty"`
}

type Proofs []Proof

// Amount returns the total amount from the array of Proof
func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

func (proofs Proofs) Secrets() []string {
	secrets := make([]string, len(proofs))
	for i, proof := range proofs {
		secrets[i] = proof.Secret
	}
	return secrets
}

// AmountSplit returns the canonical decomposition of amount into
// powers of two, lowest first e.g. 13 -> [1, 4, 8]. It is the unique
// minimal multiset of powers of two summing to amount.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

// IsPowerOfTwo reports whether amount is a valid denomination.
func IsPowerOfTwo(amount uint64) bool {
	return amount != 0 && amount&(amount-1) == 0
}

// CheckDuplicateProofs returns true if two proofs in the batch share
// a secret.
func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[string]bool, len(proofs))
	for _, proof := range proofs {
		if seen[proof.Secret] {
			return true
		}
		seen[proof.Secret] = true
	}
	return false
}

// CheckDuplicateBlindedMessages returns true if two messages in the
// batch share a blinded point.
func CheckDuplicateBlindedMessages(messages BlindedMessages) bool {
	seen := make(map[string]bool, len(messages))
	for _, msg := range messages {
		if seen[msg.B_] {
			return true
		}
		seen[msg.B_] = true
	}
	return false
}
