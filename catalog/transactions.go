package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tos-network/refilld/types"
)

// TransactionRecord is a refill transaction joined with the asset, chain and
// hot wallet rows it was admitted against.
type TransactionRecord struct {
	Tx     *types.RefillTransaction
	Asset  *types.Asset
	Chain  *types.Chain
	Wallet *types.Wallet
}

// InsertTransaction stores a new refill transaction and its index entries in
// one batch. It fails with a DuplicateError matching ErrDuplicateTransaction
// when the request id is taken, and with one matching ErrRefillInFlight when
// the asset already has a non-terminal transaction. Zero timestamps are
// filled with the current time.
func (c *Catalog) InsertTransaction(tx *types.RefillTransaction) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if existing, err := c.transactionByRequestID(tx.RefillRequestID); err != nil {
		return err
	} else if existing != nil {
		return &DuplicateError{Existing: existing, reason: ErrDuplicateTransaction}
	}
	if !tx.Status.Terminal() {
		pending, err := c.pendingTransactionByAsset(tx.AssetID)
		if err != nil {
			return err
		}
		if pending != nil {
			return &DuplicateError{Existing: pending, reason: ErrRefillInFlight}
		}
	}

	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}

	blob, err := json.Marshal(tx)
	if err != nil {
		return storageError("insert transaction", err)
	}
	batch := c.db.NewBatch()
	if err := batch.Put(txKey(tx.RefillRequestID), blob); err != nil {
		return storageError("insert transaction", err)
	}
	idxKey := txStatusIndexKey(tx.Status, tx.CreatedAt.UnixMilli(), tx.RefillRequestID)
	if err := batch.Put(idxKey, []byte(tx.RefillRequestID)); err != nil {
		return storageError("insert transaction", err)
	}
	if !tx.Status.Terminal() {
		if err := batch.Put(txPendingKey(tx.AssetID), []byte(tx.RefillRequestID)); err != nil {
			return storageError("insert transaction", err)
		}
	} else if tx.Status == types.StatusCompleted {
		if err := batch.Put(txLastOKKey(tx.AssetID), []byte(tx.RefillRequestID)); err != nil {
			return storageError("insert transaction", err)
		}
	}
	if err := batch.Write(); err != nil {
		return storageError("insert transaction", err)
	}
	c.log.Debug("Inserted refill transaction", "request", tx.RefillRequestID, "asset", tx.AssetID, "status", tx.Status)
	return nil
}

// UpdateTransaction applies a patch to a stored transaction and returns the
// number of rows affected. A missing row, an empty patch or a row already in
// terminal status affect zero rows. Status changes must follow the
// transition rules and move the index entries along.
func (c *Catalog) UpdateTransaction(requestID string, patch *types.TransactionPatch) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	if patch == nil || patch.Empty() {
		return 0, nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stored, err := c.transactionByRequestID(requestID)
	if err != nil {
		return 0, err
	}
	if stored == nil {
		return 0, nil
	}
	if stored.Terminal() {
		c.log.Warn("Refused update of terminal transaction", "request", requestID, "status", stored.Status)
		return 0, nil
	}
	if patch.Status != nil && !stored.Status.CanTransition(*patch.Status) {
		return 0, fmt.Errorf("catalog: invalid status transition %s -> %s for %s", stored.Status, *patch.Status, requestID)
	}

	updated := stored.Copy()
	patch.Apply(updated)
	if now := time.Now().UTC(); now.After(updated.UpdatedAt) {
		updated.UpdatedAt = now
	}

	blob, err := json.Marshal(updated)
	if err != nil {
		return 0, storageError("update transaction", err)
	}
	batch := c.db.NewBatch()
	if err := batch.Put(txKey(requestID), blob); err != nil {
		return 0, storageError("update transaction", err)
	}
	if updated.Status != stored.Status {
		oldIdx := txStatusIndexKey(stored.Status, stored.CreatedAt.UnixMilli(), requestID)
		if err := batch.Delete(oldIdx); err != nil {
			return 0, storageError("update transaction", err)
		}
		newIdx := txStatusIndexKey(updated.Status, updated.CreatedAt.UnixMilli(), requestID)
		if err := batch.Put(newIdx, []byte(requestID)); err != nil {
			return 0, storageError("update transaction", err)
		}
		if updated.Status.Terminal() {
			if err := batch.Delete(txPendingKey(updated.AssetID)); err != nil {
				return 0, storageError("update transaction", err)
			}
		}
		if updated.Status == types.StatusCompleted {
			if err := batch.Put(txLastOKKey(updated.AssetID), []byte(requestID)); err != nil {
				return 0, storageError("update transaction", err)
			}
		}
	}
	if err := batch.Write(); err != nil {
		return 0, storageError("update transaction", err)
	}
	c.log.Debug("Updated refill transaction", "request", requestID, "status", updated.Status)
	return 1, nil
}

// TransactionByRequestID loads one transaction joined with its asset, chain
// and hot wallet. A missing transaction returns (nil, nil).
func (c *Catalog) TransactionByRequestID(requestID string) (*TransactionRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	tx, err := c.transactionByRequestID(requestID)
	if err != nil || tx == nil {
		return nil, err
	}
	record, err := c.assetRecordByID(tx.AssetID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &Error{Op: "transaction join", Err: fmt.Errorf("transaction %s references unknown asset %d", requestID, tx.AssetID)}
	}
	return &TransactionRecord{Tx: tx, Asset: record.Asset, Chain: record.Chain, Wallet: record.Wallet}, nil
}

func (c *Catalog) transactionByRequestID(requestID string) (*types.RefillTransaction, error) {
	tx := new(types.RefillTransaction)
	ok, err := c.getJSON("transaction by request id", txKey(requestID), tx)
	if err != nil || !ok {
		return nil, err
	}
	return tx, nil
}

// PendingTransactionByAsset returns the asset's single non-terminal
// transaction, or (nil, nil) when none is in flight.
func (c *Catalog) PendingTransactionByAsset(assetID uint64) (*types.RefillTransaction, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.pendingTransactionByAsset(assetID)
}

func (c *Catalog) pendingTransactionByAsset(assetID uint64) (*types.RefillTransaction, error) {
	requestID, ok, err := c.getRaw("pending transaction", txPendingKey(assetID))
	if err != nil || !ok {
		return nil, err
	}
	tx, err := c.transactionByRequestID(string(requestID))
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &Error{Op: "pending transaction", Err: fmt.Errorf("index points at missing transaction %s", requestID)}
	}
	return tx, nil
}

// LastCompletedRefill returns the asset's most recently completed
// transaction, or (nil, nil) when the asset never completed one.
func (c *Catalog) LastCompletedRefill(assetID uint64) (*types.RefillTransaction, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	requestID, ok, err := c.getRaw("last completed refill", txLastOKKey(assetID))
	if err != nil || !ok {
		return nil, err
	}
	tx, err := c.transactionByRequestID(string(requestID))
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &Error{Op: "last completed refill", Err: fmt.Errorf("index points at missing transaction %s", requestID)}
	}
	return tx, nil
}

// TransactionsByStatus lists every transaction in one liveness status,
// ordered by creation time ascending. The status index key embeds the
// creation time big endian, so iteration order is the requested order.
func (c *Catalog) TransactionsByStatus(status types.Status) ([]*types.RefillTransaction, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("catalog: unknown status %q", status)
	}
	var txs []*types.RefillTransaction
	it := c.db.NewIterator(txStatusIterPrefix(status), nil)
	defer it.Release()
	for it.Next() {
		tx, err := c.transactionByRequestID(string(it.Value()))
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, &Error{Op: "transactions by status", Err: fmt.Errorf("index points at missing transaction %s", it.Value())}
		}
		txs = append(txs, tx)
	}
	if err := it.Error(); err != nil {
		return nil, storageError("transactions by status", err)
	}
	return txs, nil
}

// IsDuplicate reports whether err is a duplicate insert of either kind and
// unpacks the stored row that caused it.
func IsDuplicate(err error) (*types.RefillTransaction, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Existing, true
	}
	return nil, false
}
