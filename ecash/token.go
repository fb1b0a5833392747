package ecash

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const tokenPrefix = "nutmegA"

var ErrInvalidToken = errors.New("invalid token")

// Token is the bearer serialization of a set of proofs, used to move
// ecash between wallets out of band.
type Token struct {
	Proofs Proofs `json:"proofs" cbor:"p"`
	Mint   string `json:"mint" cbor:"m"`
	Unit   string `json:"unit" cbor:"u"`
	Memo   string `json:"memo,omitempty" cbor:"d,omitempty"`
}

func NewToken(proofs Proofs, mint string) Token {
	return Token{Proofs: proofs, Mint: mint, Unit: "sat"}
}

func (t Token) Amount() uint64 {
	return t.Proofs.Amount()
}

func (t Token) Serialize() (string, error) {
	cborData, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(cborData), nil
}

func DecodeToken(tokenstr string) (Token, error) {
	if len(tokenstr) < len(tokenPrefix) || tokenstr[:len(tokenPrefix)] != tokenPrefix {
		return Token{}, ErrInvalidToken
	}

	tokenBytes, err := base64.RawURLEncoding.DecodeString(tokenstr[len(tokenPrefix):])
	if err != nil {
		tokenBytes, err = base64.URLEncoding.DecodeString(tokenstr[len(tokenPrefix):])
		if err != nil {
			return Token{}, fmt.Errorf("error decoding token: %v", err)
		}
	}

	var token Token
	if err := cbor.Unmarshal(tokenBytes, &token); err != nil {
		return Token{}, fmt.Errorf("cbor.Unmarshal: %v", err)
	}

	return token, nil
}
