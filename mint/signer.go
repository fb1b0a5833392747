package mint

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/mlbern/nutmeg/crypto"
	"github.com/mlbern/nutmeg/ecash"
	"github.com/mlbern/nutmeg/mint/storage"
)

// checkBlindedMessages rejects a batch containing a point that does
// not parse. Callers run it before their first durable write so a
// malformed output cannot invalidate inputs that already passed
// verification.
func checkBlindedMessages(blindedMessages ecash.BlindedMessages) error {
	for _, msg := range blindedMessages {
		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return ecash.InvalidOutputErr
		}
		if _, err := btcec.ParsePubKey(B_bytes); err != nil {
			return ecash.InvalidOutputErr
		}
	}
	return nil
}

// signBlindedMessages signs the batch and returns the promises in the
// same order as the inputs. Callers rely on positional correspondence
// to reconstruct denominations.
func (m *Mint) signBlindedMessages(blindedMessages ecash.BlindedMessages) (ecash.BlindedSignatures, error) {
	blindedSignatures := make(ecash.BlindedSignatures, len(blindedMessages))

	for i, msg := range blindedMessages {
		blindedSignature, err := m.signBlindedMessage(msg)
		if err != nil {
			return nil, err
		}
		blindedSignatures[i] = blindedSignature
	}

	return blindedSignatures, nil
}

func (m *Mint) signBlindedMessage(msg ecash.BlindedMessage) (ecash.BlindedSignature, error) {
	if !ecash.IsPowerOfTwo(msg.Amount) {
		return ecash.BlindedSignature{}, ecash.InvalidDenominationErr
	}

	keyset, err := m.resolveKeyset(msg.Id)
	if err != nil {
		return ecash.BlindedSignature{}, err
	}

	keyPair, ok := keyset.Keys[msg.Amount]
	if !ok {
		return ecash.BlindedSignature{}, ecash.InvalidDenominationErr
	}

	B_bytes, err := hex.DecodeString(msg.B_)
	if err != nil {
		return ecash.BlindedSignature{}, ecash.StandardErr
	}
	B_, err := btcec.ParsePubKey(B_bytes)
	if err != nil {
		return ecash.BlindedSignature{}, ecash.BuildError(err.Error(), ecash.StandardErrCode)
	}

	C_ := crypto.SignBlindedMessage(B_, keyPair.PrivateKey)
	C_hex := hex.EncodeToString(C_.SerializeCompressed())

	// audit record only; the stored row is never related back to an
	// unblinded proof
	promise := storage.DBPromise{
		B_:       msg.B_,
		C_:       C_hex,
		KeysetId: keyset.Id,
		Amount:   msg.Amount,
	}
	if err := m.db.SavePromise(promise); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return ecash.BlindedSignature{}, ecash.BlindedMessageSignedErr
		}
		m.logError("error saving promise", err)
		return ecash.BlindedSignature{}, ecash.StandardErr
	}

	return ecash.BlindedSignature{Amount: msg.Amount, C_: C_hex, Id: keyset.Id}, nil
}
