package mint

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mlbern/nutmeg/crypto"
	"github.com/mlbern/nutmeg/ecash"
	"github.com/mlbern/nutmeg/mint/lightning"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testMint(t *testing.T, fb *lightning.FakeBackend) *Mint {
	mint, err := LoadMint(Config{
		Mnemonic:        testMnemonic,
		DerivationPath:  "0/0/0",
		MintPath:        t.TempDir(),
		DBBackend:       "bolt",
		LightningClient: fb,
		LogLevel:        Disable,
	})
	if err != nil {
		t.Fatalf("error loading mint: %v", err)
	}
	t.Cleanup(func() { mint.Close() })
	return mint
}

func randomSecret(t *testing.T) string {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		t.Fatalf("error generating secret: %v", err)
	}
	return hex.EncodeToString(random[:])
}

// blindedMessagesFor builds outputs for the given amounts and returns
// them with the secrets and blinding factors needed to unblind the
// resulting promises.
func blindedMessagesFor(t *testing.T, mint *Mint, amounts ...uint64) (ecash.BlindedMessages, []string, []*secp256k1.PrivateKey) {
	messages := make(ecash.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))

	for i, amount := range amounts {
		secret := randomSecret(t)
		r, err := crypto.GenerateBlindingFactor()
		if err != nil {
			t.Fatalf("error generating blinding factor: %v", err)
		}
		B_, err := crypto.BlindMessage(secret, r)
		if err != nil {
			t.Fatalf("error blinding message: %v", err)
		}

		messages[i] = ecash.BlindedMessage{
			Amount: amount,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
			Id:     mint.activeKeysetId,
		}
		secrets[i] = secret
		rs[i] = r
	}
	return messages, secrets, rs
}

// proofsFor mints proofs directly against the active keyset, standing
// in for a wallet that went through the full blind-sign round trip.
func proofsFor(t *testing.T, mint *Mint, amounts ...uint64) ecash.Proofs {
	keyset := mint.keysets[mint.activeKeysetId]

	proofs := make(ecash.Proofs, len(amounts))
	for i, amount := range amounts {
		secret := randomSecret(t)
		Y, err := crypto.HashToCurve([]byte(secret))
		if err != nil {
			t.Fatalf("error hashing secret to curve: %v", err)
		}
		C := crypto.SignBlindedMessage(Y, keyset.Keys[amount].PrivateKey)

		proofs[i] = ecash.Proof{
			Amount: amount,
			Id:     mint.activeKeysetId,
			Secret: secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs
}

func TestRequestMint(t *testing.T) {
	mint := testMint(t, &lightning.FakeBackend{})

	if _, err := mint.RequestMint(0); err == nil {
		t.Error("expected error requesting mint for amount 0")
	}

	invoice, err := mint.RequestMint(21)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}
	if invoice.Amount != 21 {
		t.Errorf("expected invoice amount '21' but got '%v'", invoice.Amount)
	}
	if invoice.PaymentRequest == "" || invoice.PaymentHash == "" {
		t.Error("invoice missing payment request or hash")
	}
	if invoice.Issued {
		t.Error("fresh invoice already marked issued")
	}
}

func TestMintTokens(t *testing.T) {
	fb := &lightning.FakeBackend{}
	mint := testMint(t, fb)

	invoice, err := mint.RequestMint(10)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}

	messages, secrets, rs := blindedMessagesFor(t, mint, 2, 8)
	signatures, err := mint.MintTokens(invoice.PaymentHash, messages)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}
	if len(signatures) != 2 {
		t.Fatalf("expected '2' signatures but got '%v'", len(signatures))
	}
	if signatures.Amount() != 10 {
		t.Fatalf("expected signatures amount '10' but got '%v'", signatures.Amount())
	}

	// unblind and check the promises verify against the keyset
	keyset := mint.keysets[mint.activeKeysetId]
	for i, signature := range signatures {
		if signature.Amount != messages[i].Amount {
			t.Errorf("expected amount '%v' but got '%v'", messages[i].Amount, signature.Amount)
		}

		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			t.Fatalf("error decoding signature: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			t.Fatalf("error parsing signature: %v", err)
		}

		keyPair := keyset.Keys[signature.Amount]
		C := crypto.UnblindSignature(C_, rs[i], keyPair.PublicKey)
		if !crypto.Verify(secrets[i], keyPair.PrivateKey, C) {
			t.Errorf("unblinded signature for amount '%v' does not verify", signature.Amount)
		}
	}

	// the invoice is spent
	messages, _, _ = blindedMessagesFor(t, mint, 2, 8)
	if _, err := mint.MintTokens(invoice.PaymentHash, messages); err != ecash.InvoiceAlreadyIssuedErr {
		t.Errorf("expected InvoiceAlreadyIssuedErr but got '%v'", err)
	}
}

func TestMintTokensRejections(t *testing.T) {
	fb := &lightning.FakeBackend{}
	mint := testMint(t, fb)

	invoice, err := mint.RequestMint(10)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}

	if _, err := mint.MintTokens("unknown-hash", nil); err != ecash.UnknownInvoiceErr {
		t.Errorf("expected UnknownInvoiceErr but got '%v'", err)
	}

	if _, err := mint.MintTokens(invoice.PaymentHash, nil); err != ecash.EmptyBodyErr {
		t.Errorf("expected EmptyBodyErr but got '%v'", err)
	}

	messages, _, _ := blindedMessagesFor(t, mint, 2, 8)
	duplicates := ecash.BlindedMessages{messages[0], messages[0]}
	if _, err := mint.MintTokens(invoice.PaymentHash, duplicates); err != ecash.DuplicateOutputsErr {
		t.Errorf("expected DuplicateOutputsErr but got '%v'", err)
	}

	badDenomination, _, _ := blindedMessagesFor(t, mint, 3)
	if _, err := mint.MintTokens(invoice.PaymentHash, badDenomination); err != ecash.InvalidDenominationErr {
		t.Errorf("expected InvalidDenominationErr but got '%v'", err)
	}

	overInvoice, _, _ := blindedMessagesFor(t, mint, 8, 8)
	if _, err := mint.MintTokens(invoice.PaymentHash, overInvoice); err != ecash.OutputsOverInvoiceErr {
		t.Errorf("expected OutputsOverInvoiceErr but got '%v'", err)
	}

	// all rejections above must leave the invoice mintable
	if _, err := mint.MintTokens(invoice.PaymentHash, messages); err != nil {
		t.Fatalf("error minting tokens after rejected attempts: %v", err)
	}
}

func TestMintTokensUnpaidInvoice(t *testing.T) {
	fb := &lightning.FakeBackend{}
	mint := testMint(t, fb)

	invoice, err := mint.RequestMint(8)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}
	fb.SetInvoiceSettled(invoice.PaymentHash, false)

	messages, _, _ := blindedMessagesFor(t, mint, 8)
	if _, err := mint.MintTokens(invoice.PaymentHash, messages); err != ecash.InvoiceNotPaidErr {
		t.Fatalf("expected InvoiceNotPaidErr but got '%v'", err)
	}

	// the issued flag was reverted, so minting works once paid
	fb.SetInvoiceSettled(invoice.PaymentHash, true)
	if _, err := mint.MintTokens(invoice.PaymentHash, messages); err != nil {
		t.Fatalf("error minting tokens after invoice settled: %v", err)
	}
}

func TestSplit(t *testing.T) {
	mint := testMint(t, &lightning.FakeBackend{})

	// 8 split into 5 change and 3 send
	proofs := proofsFor(t, mint, 8)
	messages, _, _ := blindedMessagesFor(t, mint, 1, 4, 1, 2)

	change, send, err := mint.Split(proofs, 3, messages)
	if err != nil {
		t.Fatalf("error splitting proofs: %v", err)
	}
	if change.Amount() != 5 {
		t.Errorf("expected change amount '5' but got '%v'", change.Amount())
	}
	if send.Amount() != 3 {
		t.Errorf("expected send amount '3' but got '%v'", send.Amount())
	}

	// inputs are invalidated by the split
	if _, _, err := mint.Split(proofs, 3, messages); err != ecash.ProofAlreadyUsedErr {
		t.Errorf("expected ProofAlreadyUsedErr but got '%v'", err)
	}
}

func TestSplitRejections(t *testing.T) {
	mint := testMint(t, &lightning.FakeBackend{})

	proofs := proofsFor(t, mint, 8)

	messages, _, _ := blindedMessagesFor(t, mint, 1, 4, 1, 2)
	if _, _, err := mint.Split(proofs, 16, messages); err != ecash.InsufficientFundsErr {
		t.Errorf("expected InsufficientFundsErr but got '%v'", err)
	}

	// canonical order is change decomposition then send decomposition,
	// each ascending
	wrongOrder, _, _ := blindedMessagesFor(t, mint, 4, 1, 1, 2)
	if _, _, err := mint.Split(proofs, 3, wrongOrder); err != ecash.InvalidSplitOutputsErr {
		t.Errorf("expected InvalidSplitOutputsErr but got '%v'", err)
	}

	tooFew, _, _ := blindedMessagesFor(t, mint, 1, 4)
	if _, _, err := mint.Split(proofs, 3, tooFew); err != ecash.InvalidSplitOutputsErr {
		t.Errorf("expected InvalidSplitOutputsErr but got '%v'", err)
	}

	duplicates := ecash.BlindedMessages{messages[0], messages[0], messages[0], messages[0]}
	if _, _, err := mint.Split(proofs, 3, duplicates); err != ecash.DuplicateOutputsErr {
		t.Errorf("expected DuplicateOutputsErr but got '%v'", err)
	}

	// rejected splits leave the inputs spendable
	if _, _, err := mint.Split(proofs, 3, messages); err != nil {
		t.Fatalf("error splitting proofs after rejected attempts: %v", err)
	}
}

func TestSplitMalformedOutput(t *testing.T) {
	mint := testMint(t, &lightning.FakeBackend{})

	proofs := proofsFor(t, mint, 8)

	badPoints := []string{
		"zz-not-hex",
		// hex but not a curve point
		"00ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	}
	for _, badPoint := range badPoints {
		messages, _, _ := blindedMessagesFor(t, mint, 1, 4, 1, 2)
		messages[2].B_ = badPoint

		if _, _, err := mint.Split(proofs, 3, messages); err != ecash.InvalidOutputErr {
			t.Fatalf("expected InvalidOutputErr but got '%v'", err)
		}

		// the rejected split must not have invalidated the inputs
		spendable, err := mint.CheckSpendable(proofs)
		if err != nil {
			t.Fatalf("error checking spendable: %v", err)
		}
		if !spendable[0] {
			t.Fatal("input proof invalidated by rejected split")
		}
	}

	messages, _, _ := blindedMessagesFor(t, mint, 1, 4, 1, 2)
	if _, _, err := mint.Split(proofs, 3, messages); err != nil {
		t.Fatalf("error splitting proofs after rejected attempts: %v", err)
	}
}

func TestMintTokensMalformedOutput(t *testing.T) {
	fb := &lightning.FakeBackend{}
	mint := testMint(t, fb)

	invoice, err := mint.RequestMint(8)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}

	messages, _, _ := blindedMessagesFor(t, mint, 8)
	messages[0].B_ = "zz-not-hex"
	if _, err := mint.MintTokens(invoice.PaymentHash, messages); err != ecash.InvalidOutputErr {
		t.Fatalf("expected InvalidOutputErr but got '%v'", err)
	}

	// the rejection must not have burned the invoice
	messages, _, _ = blindedMessagesFor(t, mint, 8)
	if _, err := mint.MintTokens(invoice.PaymentHash, messages); err != nil {
		t.Fatalf("error minting tokens after rejected attempt: %v", err)
	}
}

func TestMeltTokens(t *testing.T) {
	fb := &lightning.FakeBackend{Fee: 1}
	mint := testMint(t, fb)

	invoice, err := fb.CreateInvoice(8)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	proofs := proofsFor(t, mint, 8, 2)
	paid, preimage, err := mint.MeltTokens(proofs, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if !paid {
		t.Error("melt did not report the invoice as paid")
	}
	if preimage != lightning.FakePreimage {
		t.Errorf("expected preimage '%v' but got '%v'", lightning.FakePreimage, preimage)
	}

	// melted proofs are spent
	if _, _, err := mint.MeltTokens(proofs, invoice.PaymentRequest); err != ecash.ProofAlreadyUsedErr {
		t.Errorf("expected ProofAlreadyUsedErr but got '%v'", err)
	}
}

func TestMeltTokensInsufficient(t *testing.T) {
	fb := &lightning.FakeBackend{Fee: 1}
	mint := testMint(t, fb)

	invoice, err := fb.CreateInvoice(8)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	// 8 does not cover invoice amount plus fee reserve
	proofs := proofsFor(t, mint, 8)
	if _, _, err := mint.MeltTokens(proofs, invoice.PaymentRequest); err != ecash.InsufficientFundsErr {
		t.Fatalf("expected InsufficientFundsErr but got '%v'", err)
	}

	if _, _, err := mint.MeltTokens(proofs, "not-an-invoice"); err == nil {
		t.Error("expected error melting against malformed invoice")
	}

	// neither attempt spent the proofs
	spendable, err := mint.CheckSpendable(proofs)
	if err != nil {
		t.Fatalf("error checking spendable: %v", err)
	}
	if !spendable[0] {
		t.Error("proofs spent by rejected melt")
	}
}

func TestMeltTokensPaymentFailure(t *testing.T) {
	fb := &lightning.FakeBackend{Fee: 1, PaymentErr: errors.New("no route")}
	mint := testMint(t, fb)

	invoice, err := fb.CreateInvoice(8)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	proofs := proofsFor(t, mint, 8, 2)
	if _, _, err := mint.MeltTokens(proofs, invoice.PaymentRequest); err == nil {
		t.Fatal("expected error melting with failing payment backend")
	}

	// a failed payment leaves the proofs spendable
	fb.PaymentErr = nil
	paid, _, err := mint.MeltTokens(proofs, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("error melting tokens after backend recovered: %v", err)
	}
	if !paid {
		t.Error("melt did not report the invoice as paid")
	}
}

func TestMeltTokensConcurrent(t *testing.T) {
	fb := &lightning.FakeBackend{Fee: 1}
	mint := testMint(t, fb)

	invoice, err := fb.CreateInvoice(8)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	proofs := proofsFor(t, mint, 8, 2)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := mint.MeltTokens(proofs, invoice.PaymentRequest)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if err != ecash.ProofsPendingErr && err != ecash.ProofAlreadyUsedErr {
			t.Errorf("unexpected error from concurrent melt: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly '1' melt to succeed but got '%v'", succeeded)
	}
}

func TestCheckSpendable(t *testing.T) {
	mint := testMint(t, &lightning.FakeBackend{})

	proofs := proofsFor(t, mint, 1, 2)
	spendable, err := mint.CheckSpendable(proofs)
	if err != nil {
		t.Fatalf("error checking spendable: %v", err)
	}
	for i, ok := range spendable {
		if !ok {
			t.Errorf("fresh proof '%v' reported as spent", i)
		}
	}

	if err := mint.db.SaveUsedSecrets([]string{proofs[0].Secret}); err != nil {
		t.Fatalf("error invalidating proof: %v", err)
	}

	spendable, err = mint.CheckSpendable(proofs)
	if err != nil {
		t.Fatalf("error checking spendable: %v", err)
	}
	if spendable[0] || !spendable[1] {
		t.Errorf("expected '[false true]' but got '%v'", spendable)
	}
}

func TestKeysetPublicKeys(t *testing.T) {
	mint := testMint(t, &lightning.FakeBackend{})

	keys, err := mint.KeysetPublicKeys("")
	if err != nil {
		t.Fatalf("error getting active keyset keys: %v", err)
	}
	if len(keys) != crypto.MaxOrder {
		t.Errorf("expected '%v' keys but got '%v'", crypto.MaxOrder, len(keys))
	}

	if _, err := mint.KeysetPublicKeys("00ffffffffffffff"); err != ecash.UnknownKeysetErr {
		t.Errorf("expected UnknownKeysetErr but got '%v'", err)
	}

	ids := mint.KeysetIds()
	if len(ids) != 1 || ids[0] != mint.activeKeysetId {
		t.Errorf("unexpected keyset ids: %v", ids)
	}
}

func TestKeysetRotation(t *testing.T) {
	fb := &lightning.FakeBackend{}
	path := t.TempDir()

	loadWith := func(derivationPath string) *Mint {
		mint, err := LoadMint(Config{
			Mnemonic:        testMnemonic,
			DerivationPath:  derivationPath,
			MintPath:        path,
			DBBackend:       "bolt",
			LightningClient: fb,
			LogLevel:        Disable,
		})
		if err != nil {
			t.Fatalf("error loading mint: %v", err)
		}
		return mint
	}

	first := loadWith("0/0/0")
	firstId := first.activeKeysetId
	proofs := proofsFor(t, first, 4)
	first.Close()

	// rotate to a new derivation path. The old keyset must stay
	// loaded so its proofs keep verifying.
	second := loadWith("0/0/1")
	defer second.Close()

	if second.activeKeysetId == firstId {
		t.Fatal("rotation did not change the active keyset")
	}
	if len(second.KeysetIds()) != 2 {
		t.Fatalf("expected '2' keysets but got '%v'", len(second.KeysetIds()))
	}
	if second.keysets[firstId].Active {
		t.Error("legacy keyset still marked active")
	}

	if err := second.verifyProofs(proofs); err != nil {
		t.Fatalf("proofs from legacy keyset failed verification: %v", err)
	}
}
