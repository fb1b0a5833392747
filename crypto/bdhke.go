// Package crypto implements the blind Diffie-Hellman key exchange
// used for issuing and verifying ecash.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const hashToCurveDomainSeparator = "Secp256k1_HashToCurve_Nutmeg_"

// HashToCurve maps a message to a point on the curve by hashing the
// message under a domain separator and incrementing a counter until
// the digest parses as a valid compressed point.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := sha256.Sum256(append([]byte(hashToCurveDomainSeparator), message...))

	counter := make([]byte, 4)
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter, i)
		hash := sha256.Sum256(append(msgToHash[:], counter...))
		point, err := secp256k1.ParsePubKey(append([]byte{0x02}, hash[:]...))
		if err == nil && point.IsOnCurve() {
			return point, nil
		}
	}
	return nil, errors.New("no valid point found for message")
}

// LegacyHashToCurve is the original mapping scheme: repeated sha256 of
// the message until a valid point comes out. Kept so tokens issued
// before the domain-separated scheme still verify.
func LegacyHashToCurve(message []byte) *secp256k1.PublicKey {
	var point *secp256k1.PublicKey

	for point == nil || !point.IsOnCurve() {
		hash := sha256.Sum256(message)
		pkhash := append([]byte{0x02}, hash[:]...)
		point, _ = secp256k1.ParsePubKey(pkhash)
		message = hash[:]
	}
	return point
}

// B_ = Y + rG
func BlindMessage(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, error) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, err
	}
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify checks k * HashToCurve(secret) == C.
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}
	return verifyPoint(Y, k, C)
}

// VerifyLegacy checks the blind-signature relation under the legacy
// hash-to-curve mapping.
func VerifyLegacy(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y := LegacyHashToCurve([]byte(secret))
	return verifyPoint(Y, k, C)
}

func verifyPoint(Y *secp256k1.PublicKey, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// GenerateBlindingFactor returns a fresh random scalar for blinding.
func GenerateBlindingFactor() (*secp256k1.PrivateKey, error) {
	r, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return r, nil
}
