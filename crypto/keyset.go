package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder bounds the supported denominations to powers of two
// from 2^0 up to 2^(MaxOrder-1).
const MaxOrder = 64

// Keyset is a versioned family of per-denomination signing keys.
// Immutable once derived; legacy keysets are kept around so old
// proofs remain verifiable.
type Keyset struct {
	Id             string
	Unit           string
	Active         bool
	DerivationPath string
	Keys           map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// DeriveKeyset deterministically derives the per-denomination keypairs
// from the mint's master seed and a derivation path. Re-deriving the
// same (seed, path) yields byte-identical keys.
func DeriveKeyset(seed []byte, derivationPath string) *Keyset {
	keys := make(map[uint64]KeyPair, MaxOrder)

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << uint(i)
		keyMaterial := append([]byte{}, seed...)
		keyMaterial = append(keyMaterial, []byte(derivationPath)...)
		keyMaterial = append(keyMaterial, []byte(strconv.FormatUint(amount, 10))...)
		hash := sha256.Sum256(keyMaterial)

		privKey, pubKey := btcec.PrivKeyFromBytes(hash[:])
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: pubKey}
	}

	return &Keyset{
		Id:             DeriveKeysetId(keys),
		Unit:           "sat",
		Active:         true,
		DerivationPath: derivationPath,
		Keys:           keys,
	}
}

// DeriveKeysetId fingerprints a keyset: sha256 over the compressed
// public keys in ascending denomination order, "00" version prefix
// plus the first 14 hex characters.
func DeriveKeysetId(keys map[uint64]KeyPair) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	pubkeys := make([]byte, 0, len(keys)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].PublicKey.SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// PublicKeys exposes the verification material only: a map of
// denomination to compressed public key hex.
func (ks *Keyset) PublicKeys() map[uint64]string {
	pubKeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubKeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubKeys
}
