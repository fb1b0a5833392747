// Package sqlite implements storage.MintDB on top of sqlite3 with
// embedded schema migrations.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/mlbern/nutmeg/mint/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// isConstraintErr reports whether err is a sqlite uniqueness conflict.
func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func (s *SQLiteDB) SaveSeed(seed []byte) error {
	_, err := s.db.Exec(`
	INSERT INTO seed (id, seed) VALUES (?, ?)
	`, "id", hex.EncodeToString(seed))

	return err
}

func (s *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := s.db.QueryRow("SELECT seed FROM seed WHERE id = 'id'")
	if err := row.Scan(&hexSeed); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexSeed)
}

func (s *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO keysets (id, unit, active, derivation_path) VALUES (?, ?, ?, ?)
	`, keyset.Id, keyset.Unit, keyset.Active, keyset.DerivationPath)

	return err
}

func (s *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := s.db.Query("SELECT id, unit, active, derivation_path FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		err := rows.Scan(
			&keyset.Id,
			&keyset.Unit,
			&keyset.Active,
			&keyset.DerivationPath,
		)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, nil
}

func (s *SQLiteDB) UpdateKeysetActive(keysetId string, active bool) error {
	result, err := s.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, keysetId)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("keyset was not updated")
	}
	return nil
}

func (s *SQLiteDB) SavePromise(promise storage.DBPromise) error {
	_, err := s.db.Exec(`
		INSERT INTO promises (b_, c_, keyset_id, amount) VALUES (?, ?, ?, ?)
	`, promise.B_, promise.C_, promise.KeysetId, promise.Amount)

	if isConstraintErr(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func (s *SQLiteDB) GetPromise(B_ string) (storage.DBPromise, error) {
	row := s.db.QueryRow("SELECT b_, c_, keyset_id, amount FROM promises WHERE b_ = ?", B_)

	var promise storage.DBPromise
	err := row.Scan(
		&promise.B_,
		&promise.C_,
		&promise.KeysetId,
		&promise.Amount,
	)
	if err != nil {
		return storage.DBPromise{}, err
	}
	return promise, nil
}

func (s *SQLiteDB) SaveUsedSecrets(secrets []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO used_secrets (secret) VALUES (?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, secret := range secrets {
		if _, err := stmt.Exec(secret); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteDB) GetUsedSecrets(secrets []string) (map[string]bool, error) {
	used := make(map[string]bool, len(secrets))
	if len(secrets) == 0 {
		return used, nil
	}

	query := `SELECT secret FROM used_secrets WHERE secret in (?` +
		strings.Repeat(",?", len(secrets)-1) + `)`

	args := make([]any, len(secrets))
	for i, secret := range secrets {
		args[i] = secret
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var secret string
		if err := rows.Scan(&secret); err != nil {
			return nil, err
		}
		used[secret] = true
	}

	return used, nil
}

func (s *SQLiteDB) AddPendingSecrets(secrets []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO pending_secrets (secret) VALUES (?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, secret := range secrets {
		if _, err := stmt.Exec(secret); err != nil {
			tx.Rollback()
			if isConstraintErr(err) {
				return storage.ErrAlreadyExists
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteDB) DeletePendingSecrets(secrets []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("DELETE FROM pending_secrets WHERE secret = ?")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, secret := range secrets {
		if _, err := stmt.Exec(secret); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteDB) GetPendingSecrets() ([]string, error) {
	secrets := []string{}

	rows, err := s.db.Query("SELECT secret FROM pending_secrets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var secret string
		if err := rows.Scan(&secret); err != nil {
			return nil, err
		}
		secrets = append(secrets, secret)
	}

	return secrets, nil
}

func (s *SQLiteDB) SaveInvoice(invoice storage.Invoice) error {
	_, err := s.db.Exec(`
		INSERT INTO invoices (payment_hash, payment_request, amount, issued) VALUES (?, ?, ?, ?)
	`, invoice.PaymentHash, invoice.PaymentRequest, invoice.Amount, invoice.Issued)

	return err
}

func (s *SQLiteDB) GetInvoice(paymentHash string) (storage.Invoice, error) {
	row := s.db.QueryRow(
		"SELECT payment_hash, payment_request, amount, issued FROM invoices WHERE payment_hash = ?",
		paymentHash,
	)

	var invoice storage.Invoice
	err := row.Scan(
		&invoice.PaymentHash,
		&invoice.PaymentRequest,
		&invoice.Amount,
		&invoice.Issued,
	)
	if err != nil {
		return storage.Invoice{}, err
	}
	return invoice, nil
}

func (s *SQLiteDB) UpdateInvoiceIssued(paymentHash string, issued bool) error {
	result, err := s.db.Exec(
		"UPDATE invoices SET issued = ? WHERE payment_hash = ? AND issued = ?",
		issued, paymentHash, !issued,
	)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrAlreadyExists
	}
	return nil
}
