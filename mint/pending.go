package mint

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mlbern/nutmeg/ecash"
	"github.com/mlbern/nutmeg/mint/storage"
)

const sweepInterval = 30 * time.Second

// pendingLocks gives at-most-one-in-flight-redemption-per-proof-set
// semantics. Each secret moves Free -> Pending -> {Free, Consumed};
// the durable pending set is the lock registry so concurrent requests
// for the same proofs race on a single insert.
type pendingLocks struct {
	db     storage.MintDB
	logger *slog.Logger

	mu sync.Mutex
	// secrets whose release failed, retried by the sweep
	unreleased map[string]bool

	done chan struct{}
}

func newPendingLocks(db storage.MintDB, logger *slog.Logger) *pendingLocks {
	pl := &pendingLocks{
		db:         db,
		logger:     logger,
		unreleased: make(map[string]bool),
		done:       make(chan struct{}),
	}
	go pl.sweep()
	return pl
}

// acquire reserves every proof in the batch or none of them. It is a
// non-blocking try-lock: a batch overlapping an in-flight operation
// fails fast with ProofsPendingErr.
func (pl *pendingLocks) acquire(proofs ecash.Proofs) error {
	err := pl.db.AddPendingSecrets(proofs.Secrets())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return ecash.ProofsPendingErr
		}
		pl.logger.Error("error reserving proofs", slog.String("error", err.Error()))
		return ecash.StandardErr
	}
	return nil
}

// release frees the batch. Infallible from the caller's perspective:
// a failed delete is logged and retried by the sweep instead of
// disturbing the caller's error propagation.
func (pl *pendingLocks) release(proofs ecash.Proofs) {
	secrets := proofs.Secrets()
	if err := pl.db.DeletePendingSecrets(secrets); err != nil {
		pl.logger.Error("error releasing pending proofs, queuing for retry",
			slog.String("error", err.Error()))

		pl.mu.Lock()
		for _, secret := range secrets {
			pl.unreleased[secret] = true
		}
		pl.mu.Unlock()
	}
}

// sweep retries releases that failed. Pending-entry leaks are a
// liveness bug, not a correctness bug.
func (pl *pendingLocks) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pl.done:
			return
		case <-ticker.C:
			pl.retryUnreleased()
		}
	}
}

func (pl *pendingLocks) retryUnreleased() {
	pl.mu.Lock()
	if len(pl.unreleased) == 0 {
		pl.mu.Unlock()
		return
	}
	secrets := make([]string, 0, len(pl.unreleased))
	for secret := range pl.unreleased {
		secrets = append(secrets, secret)
	}
	pl.mu.Unlock()

	if err := pl.db.DeletePendingSecrets(secrets); err != nil {
		pl.logger.Error("pending sweep failed", slog.String("error", err.Error()))
		return
	}

	pl.mu.Lock()
	for _, secret := range secrets {
		delete(pl.unreleased, secret)
	}
	pl.mu.Unlock()
}

func (pl *pendingLocks) stop() {
	close(pl.done)
}
