package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestHashToCurve(t *testing.T) {
	messages := []string{
		"0000000000000000000000000000000000000000000000000000000000000000",
		"0000000000000000000000000000000000000000000000000000000000000001",
		"0000000000000000000000000000000000000000000000000000000000000002",
	}

	seen := make(map[string]bool)
	for _, message := range messages {
		msgBytes, err := hex.DecodeString(message)
		if err != nil {
			t.Fatalf("error decoding msg: %v", err)
		}

		point, err := HashToCurve(msgBytes)
		if err != nil {
			t.Fatalf("HashToCurve error: %v", err)
		}
		if !point.IsOnCurve() {
			t.Errorf("point for message '%v' is not on the curve", message)
		}

		// deterministic
		again, err := HashToCurve(msgBytes)
		if err != nil {
			t.Fatalf("HashToCurve error: %v", err)
		}
		if !point.IsEqual(again) {
			t.Errorf("HashToCurve is not deterministic for message '%v'", message)
		}

		hexStr := hex.EncodeToString(point.SerializeCompressed())
		if seen[hexStr] {
			t.Errorf("point collision for message '%v'", message)
		}
		seen[hexStr] = true

		// the domain-separated scheme must not collide with the
		// legacy mapping
		legacy := LegacyHashToCurve(msgBytes)
		if point.IsEqual(legacy) {
			t.Errorf("current and legacy mappings agree for message '%v'", message)
		}
	}
}

func TestLegacyHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "0266687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "02ec4916dd28fc4c10d78e287ca5d9cc51ee1ae73cbfde08c6b37324cbfaac8bc5"},
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "02076c988b353fcbb748178ecb286bc9d0b4acf474d4ba31ba62334e46c97c416a"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Fatalf("error decoding msg: %v", err)
		}

		pk := LegacyHashToCurve(msgBytes)
		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, hexStr)
		}
	}
}

func TestBlindSignRoundTrip(t *testing.T) {
	secret := "test_message"

	r, err := GenerateBlindingFactor()
	if err != nil {
		t.Fatalf("error generating blinding factor: %v", err)
	}

	B_, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("error blinding message: %v", err)
	}

	khex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	k, _ := btcec.PrivKeyFromBytes(khex)
	K := k.PubKey()

	C_ := SignBlindedMessage(B_, k)
	C := UnblindSignature(C_, r, K)

	if !Verify(secret, k, C) {
		t.Error("failed verification")
	}

	// wrong key must not verify
	otherhex, _ := hex.DecodeString("7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f")
	other, _ := btcec.PrivKeyFromBytes(otherhex)
	if Verify(secret, other, C) {
		t.Error("verification passed with wrong key")
	}

	// wrong secret must not verify
	if Verify("another_message", k, C) {
		t.Error("verification passed with wrong secret")
	}
}

func TestVerifyLegacy(t *testing.T) {
	secret := "legacy_token"

	khex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	k, _ := btcec.PrivKeyFromBytes(khex)

	// a signature issued under the legacy mapping
	Y := LegacyHashToCurve([]byte(secret))
	C := SignBlindedMessage(Y, k)

	if !VerifyLegacy(secret, k, C) {
		t.Error("failed legacy verification")
	}
	if Verify(secret, k, C) {
		t.Error("legacy signature verified under current scheme")
	}
}
