package bolt

import (
	"errors"
	"testing"

	"github.com/mlbern/nutmeg/mint/storage"
)

func testDB(t *testing.T) *BoltDB {
	db, err := InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error setting up bolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPendingSecrets(t *testing.T) {
	db := testDB(t)

	secrets := []string{"secret1", "secret2", "secret3"}
	if err := db.AddPendingSecrets(secrets); err != nil {
		t.Fatalf("error adding pending secrets: %v", err)
	}

	// overlapping batch must be rejected whole
	err := db.AddPendingSecrets([]string{"secret4", "secret2"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists but got '%v'", err)
	}

	// no partial insert retained
	pending, err := db.GetPendingSecrets()
	if err != nil {
		t.Fatalf("error getting pending secrets: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected '3' pending secrets but got '%v'", len(pending))
	}

	if err := db.DeletePendingSecrets([]string{"secret1", "secret2"}); err != nil {
		t.Fatalf("error deleting pending secrets: %v", err)
	}
	// delete is idempotent
	if err := db.DeletePendingSecrets([]string{"secret1"}); err != nil {
		t.Fatalf("error deleting already deleted secret: %v", err)
	}

	pending, _ = db.GetPendingSecrets()
	if len(pending) != 1 || pending[0] != "secret3" {
		t.Fatalf("unexpected pending secrets: %v", pending)
	}
}

func TestUsedSecrets(t *testing.T) {
	db := testDB(t)

	if err := db.SaveUsedSecrets([]string{"spent1", "spent2"}); err != nil {
		t.Fatalf("error saving used secrets: %v", err)
	}

	used, err := db.GetUsedSecrets([]string{"spent1", "spent2", "fresh"})
	if err != nil {
		t.Fatalf("error getting used secrets: %v", err)
	}
	if !used["spent1"] || !used["spent2"] {
		t.Error("spent secrets not reported as used")
	}
	if used["fresh"] {
		t.Error("fresh secret reported as used")
	}
}

func TestInvoiceIssued(t *testing.T) {
	db := testDB(t)

	invoice := storage.Invoice{
		Amount:         21,
		PaymentRequest: "lntbs210n1...",
		PaymentHash:    "hash1",
	}
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}

	if err := db.UpdateInvoiceIssued("hash1", true); err != nil {
		t.Fatalf("error updating invoice: %v", err)
	}

	// setting the flag to a value it already holds is a conflict
	err := db.UpdateInvoiceIssued("hash1", true)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists but got '%v'", err)
	}

	stored, err := db.GetInvoice("hash1")
	if err != nil {
		t.Fatalf("error getting invoice: %v", err)
	}
	if !stored.Issued {
		t.Error("invoice not marked issued")
	}

	if err := db.UpdateInvoiceIssued("hash1", false); err != nil {
		t.Fatalf("error reverting invoice: %v", err)
	}
}

func TestPromises(t *testing.T) {
	db := testDB(t)

	promise := storage.DBPromise{B_: "b1", C_: "c1", KeysetId: "00aabbccddeeff00", Amount: 8}
	if err := db.SavePromise(promise); err != nil {
		t.Fatalf("error saving promise: %v", err)
	}

	// a blinded point is only ever signed once
	err := db.SavePromise(promise)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists but got '%v'", err)
	}

	stored, err := db.GetPromise("b1")
	if err != nil {
		t.Fatalf("error getting promise: %v", err)
	}
	if stored != promise {
		t.Errorf("expected promise '%v' but got '%v'", promise, stored)
	}
}

func TestKeysets(t *testing.T) {
	db := testDB(t)

	keyset := storage.DBKeyset{Id: "00aabbccddeeff00", Unit: "sat", Active: true, DerivationPath: "0/0/0"}
	if err := db.SaveKeyset(keyset); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}

	if err := db.UpdateKeysetActive(keyset.Id, false); err != nil {
		t.Fatalf("error updating keyset: %v", err)
	}

	keysets, err := db.GetKeysets()
	if err != nil {
		t.Fatalf("error getting keysets: %v", err)
	}
	if len(keysets) != 1 {
		t.Fatalf("expected '1' keyset but got '%v'", len(keysets))
	}
	if keysets[0].Active {
		t.Error("keyset still active after update")
	}
}
