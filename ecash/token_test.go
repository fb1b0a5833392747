package ecash

import (
	"reflect"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 2, Id: "00ffd48b8f5ecf80", Secret: "secret1", C: "c1"},
		{Amount: 8, Id: "00ffd48b8f5ecf80", Secret: "secret2", C: "c2"},
	}
	token := NewToken(proofs, "http://localhost:3338")

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if serialized[:7] != "nutmegA" {
		t.Fatalf("unexpected token prefix: %v", serialized[:7])
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if !reflect.DeepEqual(decoded.Proofs, token.Proofs) {
		t.Errorf("expected proofs '%v' but got '%v'", token.Proofs, decoded.Proofs)
	}
	if decoded.Mint != token.Mint {
		t.Errorf("expected mint '%v' but got '%v'", token.Mint, decoded.Mint)
	}
	if decoded.Amount() != 10 {
		t.Errorf("expected amount '10' but got '%v'", decoded.Amount())
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	tests := []string{
		"",
		"nutmeg",
		"cashuAeyJwcm9vZnMiOltdfQ",
		"nutmegA!!!not-base64!!!",
	}

	for _, tokenstr := range tests {
		if _, err := DecodeToken(tokenstr); err == nil {
			t.Errorf("expected error decoding token '%v'", tokenstr)
		}
	}
}
