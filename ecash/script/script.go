// Package script implements pay-to-script spending conditions for
// proof secrets. A conditional secret commits to a script-hash
// address; spending requires presenting the script and a signature
// from the key the script locks to.
package script

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mlbern/nutmeg/ecash"
)

// Marker prefixes secrets carrying a spending condition. The full
// format is "P2SH:<committed address>:<random secret>".
const Marker = "P2SH"

var chainParams = &chaincfg.MainNetParams

// CommittedAddress extracts the committed script-hash address from a
// conditional secret. ok is false for plain secrets, which spend
// unconditionally.
func CommittedAddress(secret string) (string, bool) {
	parts := strings.SplitN(secret, ":", 3)
	if len(parts) != 3 || parts[0] != Marker {
		return "", false
	}
	return parts[1], true
}

// NewSecret builds a conditional secret committing to the given
// script, with nonce as the freeform trailing part.
func NewSecret(lockScript []byte, nonce string) (string, error) {
	addr, err := ScriptAddress(lockScript)
	if err != nil {
		return "", err
	}
	return Marker + ":" + addr + ":" + nonce, nil
}

// LockScript returns a pay-to-pubkey script locking to key.
func LockScript(pubKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(pubKey.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ScriptAddress encodes the script-hash address a script commits to.
func ScriptAddress(lockScript []byte) (string, error) {
	addr, err := btcutil.NewAddressScriptHash(lockScript, chainParams)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// SignSecret produces the witness signature for spending a
// conditional secret: a schnorr signature over sha256(secret).
func SignSecret(secret string, key *btcec.PrivateKey) (string, error) {
	hash := sha256.Sum256([]byte(secret))
	sig, err := schnorr.Sign(key, hash[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyProof checks a proof against its spending condition. Plain
// secrets pass with no witness. Conditional secrets require a script
// hashing to the committed address and a valid signature from the
// script's key.
func VerifyProof(proof ecash.Proof) error {
	committedAddr, conditional := CommittedAddress(proof.Secret)
	if !conditional {
		return nil
	}

	if proof.Script == "" || proof.ScriptSignature == "" {
		return ecash.ScriptInvalidErr
	}

	lockScript, err := hex.DecodeString(proof.Script)
	if err != nil {
		return ecash.ScriptInvalidErr
	}

	addr, err := ScriptAddress(lockScript)
	if err != nil {
		return ecash.ScriptInvalidErr
	}
	if addr != committedAddr {
		return ecash.ScriptInvalidErr
	}

	pubKey, err := extractLockKey(lockScript)
	if err != nil {
		return ecash.ScriptInvalidErr
	}

	sigBytes, err := hex.DecodeString(proof.ScriptSignature)
	if err != nil {
		return ecash.ScriptInvalidErr
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return ecash.ScriptInvalidErr
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	if !sig.Verify(hash[:], pubKey) {
		return ecash.ScriptInvalidErr
	}

	return nil
}

func extractLockKey(lockScript []byte) (*btcec.PublicKey, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(lockScript, chainParams)
	if err != nil {
		return nil, err
	}
	if class != txscript.PubKeyTy || len(addrs) != 1 {
		return nil, ecash.ScriptInvalidErr
	}

	pubKeyAddr, ok := addrs[0].(*btcutil.AddressPubKey)
	if !ok {
		return nil, ecash.ScriptInvalidErr
	}
	return pubKeyAddr.PubKey(), nil
}
