package mint

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mlbern/nutmeg/crypto"
	"github.com/mlbern/nutmeg/ecash"
	"github.com/mlbern/nutmeg/ecash/script"
)

// verifyProofs runs every check over the batch. Any single failure
// aborts the whole batch before state is mutated.
func (m *Mint) verifyProofs(proofs ecash.Proofs) error {
	if len(proofs) == 0 {
		return ecash.NoProofsProvidedErr
	}
	if ecash.CheckDuplicateProofs(proofs) {
		return ecash.DuplicateProofsErr
	}

	for _, proof := range proofs {
		if err := checkWellFormed(proof); err != nil {
			return err
		}
	}

	used, err := m.db.GetUsedSecrets(proofs.Secrets())
	if err != nil {
		m.logError("error checking used secrets", err)
		return ecash.StandardErr
	}

	for _, proof := range proofs {
		if used[proof.Secret] {
			return ecash.ProofAlreadyUsedErr
		}
		if err := script.VerifyProof(proof); err != nil {
			return err
		}
		if err := m.checkProofSignature(proof); err != nil {
			return err
		}
	}

	return nil
}

// checkWellFormed bounds the secret: non-empty and at most
// ecash.MaxSecretLength characters.
func checkWellFormed(proof ecash.Proof) error {
	if len(proof.Secret) == 0 {
		return ecash.EmptySecretErr
	}
	if len(proof.Secret) > ecash.MaxSecretLength {
		return ecash.SecretTooLongErr
	}
	return nil
}

// checkProofSignature verifies the blind-signature relation for the
// proof against the keyset it was issued under. Verification
// strategies are tried in order: the current hash-to-curve scheme
// first, then the legacy one for tokens issued before the rotation.
func (m *Mint) checkProofSignature(proof ecash.Proof) error {
	keyset, err := m.resolveKeyset(proof.Id)
	if err != nil {
		return err
	}

	keyPair, ok := keyset.Keys[proof.Amount]
	if !ok {
		return ecash.InvalidDenominationErr
	}

	Cbytes, err := hex.DecodeString(proof.C)
	if err != nil {
		return ecash.InvalidProofErr
	}
	C, err := secp256k1.ParsePubKey(Cbytes)
	if err != nil {
		return ecash.InvalidProofErr
	}

	for _, verify := range verificationStrategies {
		if verify(proof.Secret, keyPair.PrivateKey, C) {
			return nil
		}
	}
	return ecash.InvalidProofErr
}

var verificationStrategies = []func(string, *secp256k1.PrivateKey, *secp256k1.PublicKey) bool{
	crypto.Verify,
	crypto.VerifyLegacy,
}
