// Package bolt implements storage.MintDB on top of bbolt.
package bolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/mlbern/nutmeg/mint/storage"
)

const (
	seedBucket        = "seed"
	keysetsBucket     = "keysets"
	promisesBucket    = "promises"
	usedSecretsBucket = "used_secrets"
	pendingBucket     = "pending_secrets"
	invoicesBucket    = "invoices"

	seedKey = "seed"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	dbpath := filepath.Join(path, "mint.bolt.db")
	db, err := bolt.Open(dbpath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initBuckets(); err != nil {
		return nil, fmt.Errorf("error setting up bolt db: %v", err)
	}
	return boltdb, nil
}

func (db *BoltDB) initBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			seedBucket,
			keysetsBucket,
			promisesBucket,
			usedSecretsBucket,
			pendingBucket,
			invoicesBucket,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveSeed(seed []byte) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(seedBucket)).Put([]byte(seedKey), seed)
	})
}

func (db *BoltDB) GetSeed() ([]byte, error) {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(seedBucket)).Get([]byte(seedKey)); v != nil {
			seed = append(seed, v...)
		}
		return nil
	})
	if seed == nil {
		return nil, errors.New("seed not found")
	}
	return seed, nil
}

func (db *BoltDB) SaveKeyset(keyset storage.DBKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return err
	}
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keysetsBucket)).Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(keysetsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var keyset storage.DBKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				return err
			}
			keysets = append(keysets, keyset)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keysets, nil
}

func (db *BoltDB) UpdateKeysetActive(keysetId string, active bool) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(keysetsBucket))
		v := bucket.Get([]byte(keysetId))
		if v == nil {
			return errors.New("keyset was not updated")
		}

		var keyset storage.DBKeyset
		if err := json.Unmarshal(v, &keyset); err != nil {
			return err
		}
		keyset.Active = active

		jsonKeyset, err := json.Marshal(keyset)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(keysetId), jsonKeyset)
	})
}

func (db *BoltDB) SavePromise(promise storage.DBPromise) error {
	jsonPromise, err := json.Marshal(promise)
	if err != nil {
		return err
	}
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(promisesBucket))
		if bucket.Get([]byte(promise.B_)) != nil {
			return storage.ErrAlreadyExists
		}
		return bucket.Put([]byte(promise.B_), jsonPromise)
	})
}

func (db *BoltDB) GetPromise(B_ string) (storage.DBPromise, error) {
	var promise storage.DBPromise
	found := false

	err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(promisesBucket)).Get([]byte(B_))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &promise)
	})
	if err != nil {
		return storage.DBPromise{}, err
	}
	if !found {
		return storage.DBPromise{}, errors.New("promise not found")
	}
	return promise, nil
}

func (db *BoltDB) SaveUsedSecrets(secrets []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(usedSecretsBucket))
		for _, secret := range secrets {
			if err := bucket.Put([]byte(secret), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetUsedSecrets(secrets []string) (map[string]bool, error) {
	used := make(map[string]bool, len(secrets))
	db.bolt.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(usedSecretsBucket))
		for _, secret := range secrets {
			if bucket.Get([]byte(secret)) != nil {
				used[secret] = true
			}
		}
		return nil
	})
	return used, nil
}

func (db *BoltDB) AddPendingSecrets(secrets []string) error {
	// single update tx so the batch is all-or-nothing
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(pendingBucket))
		for _, secret := range secrets {
			if bucket.Get([]byte(secret)) != nil {
				return storage.ErrAlreadyExists
			}
		}
		for _, secret := range secrets {
			if err := bucket.Put([]byte(secret), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) DeletePendingSecrets(secrets []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(pendingBucket))
		for _, secret := range secrets {
			if err := bucket.Delete([]byte(secret)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetPendingSecrets() ([]string, error) {
	secrets := []string{}
	db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(pendingBucket)).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			secrets = append(secrets, string(k))
		}
		return nil
	})
	return secrets, nil
}

func (db *BoltDB) SaveInvoice(invoice storage.Invoice) error {
	jsonInvoice, err := json.Marshal(invoice)
	if err != nil {
		return err
	}
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(invoicesBucket)).Put([]byte(invoice.PaymentHash), jsonInvoice)
	})
}

func (db *BoltDB) GetInvoice(paymentHash string) (storage.Invoice, error) {
	var invoice storage.Invoice
	found := false

	err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(invoicesBucket)).Get([]byte(paymentHash))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &invoice)
	})
	if err != nil {
		return storage.Invoice{}, err
	}
	if !found {
		return storage.Invoice{}, errors.New("invoice not found")
	}
	return invoice, nil
}

func (db *BoltDB) UpdateInvoiceIssued(paymentHash string, issued bool) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucket))
		v := bucket.Get([]byte(paymentHash))
		if v == nil {
			return errors.New("invoice was not updated")
		}

		var invoice storage.Invoice
		if err := json.Unmarshal(v, &invoice); err != nil {
			return err
		}
		if invoice.Issued == issued {
			return storage.ErrAlreadyExists
		}
		invoice.Issued = issued

		jsonInvoice, err := json.Marshal(invoice)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(paymentHash), jsonInvoice)
	})
}
