// Package catalog implements the persistence schema of the refill service:
// typed accessors for chains, wallets, assets and refill transactions over a
// refilldb key-value store, together with the secondary indices the admission
// pipeline and the reconciliation monitor rely on.
//
// The schema is append-preserving: catalog entities (chains, wallets, assets)
// are replaced wholesale by the operator importer, refill transactions are
// inserted once and afterwards patched, never deleted.
package catalog

import (
	"encoding/binary"
	"strings"

	"github.com/tos-network/refilld/types"
)

// Database key prefixes. Every record lives under exactly one prefix; index
// entries carry the primary key of the record they point at as their value.
var (
	chainPrefix     = []byte("chain:")      // chainPrefix + id(uint64 BE) -> Chain JSON
	chainNamePrefix = []byte("chain-name:") // chainNamePrefix + lower(name) -> id(uint64 BE)

	walletPrefix     = []byte("wallet:")      // walletPrefix + id(uint64 BE) -> Wallet JSON
	walletAddrPrefix = []byte("wallet-addr:") // walletAddrPrefix + lower(address) -> id(uint64 BE)

	assetPrefix       = []byte("asset:")        // assetPrefix + id(uint64 BE) -> Asset JSON
	assetSymbolPrefix = []byte("asset-symbol:") // assetSymbolPrefix + chainID(uint64 BE) + lower(symbol) -> id(uint64 BE)

	txPrefix = []byte("tx:") // txPrefix + refill_request_id -> RefillTransaction JSON

	// txPendingPrefix keys exist if and only if the asset has a
	// non-terminal transaction; the value is that transaction's request
	// id. The uniqueness of this key is what bounds in-flight refills to
	// one per asset.
	txPendingPrefix = []byte("tx-pending:") // txPendingPrefix + assetID(uint64 BE) -> request id

	// txStatusPrefix orders transactions of one status by creation time,
	// which makes the monitor's oldest-first scan a plain prefix walk.
	txStatusPrefix = []byte("tx-status:") // txStatusPrefix + status + ":" + createdAt(uint64 BE) + request id -> request id

	// txLastOKPrefix points at the most recent COMPLETED transaction per
	// asset; it is overwritten on every completion, so a single read
	// answers the cooldown check.
	txLastOKPrefix = []byte("tx-last-ok:") // txLastOKPrefix + assetID(uint64 BE) -> request id

	// pingKey is probed by the health check.
	pingKey = []byte("catalog-ping")
)

// encodeID encodes an entity id as big endian uint64, keeping numeric order
// equal to byte order under iteration.
func encodeID(id uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, id)
	return enc
}

func decodeID(enc []byte) uint64 {
	if len(enc) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(enc)
}

// encodeTime encodes a millisecond unix timestamp for index ordering.
func encodeTime(millis int64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, uint64(millis))
	return enc
}

func chainKey(id uint64) []byte {
	return append(append([]byte{}, chainPrefix...), encodeID(id)...)
}

func chainNameKey(name string) []byte {
	return append(append([]byte{}, chainNamePrefix...), []byte(strings.ToLower(name))...)
}

func walletKey(id uint64) []byte {
	return append(append([]byte{}, walletPrefix...), encodeID(id)...)
}

func walletAddrKey(address string) []byte {
	return append(append([]byte{}, walletAddrPrefix...), []byte(strings.ToLower(address))...)
}

func assetKey(id uint64) []byte {
	return append(append([]byte{}, assetPrefix...), encodeID(id)...)
}

func assetSymbolKey(chainID uint64, symbol string) []byte {
	key := append(append([]byte{}, assetSymbolPrefix...), encodeID(chainID)...)
	return append(key, []byte(strings.ToLower(symbol))...)
}

func txKey(requestID string) []byte {
	return append(append([]byte{}, txPrefix...), []byte(requestID)...)
}

func txPendingKey(assetID uint64) []byte {
	return append(append([]byte{}, txPendingPrefix...), encodeID(assetID)...)
}

// txStatusIndexKey builds the status index entry for one transaction. The
// request id is part of the key so two rows created in the same millisecond
// cannot collide.
func txStatusIndexKey(status types.Status, createdAtMillis int64, requestID string) []byte {
	key := append(append([]byte{}, txStatusPrefix...), []byte(status)...)
	key = append(key, ':')
	key = append(key, encodeTime(createdAtMillis)...)
	return append(key, []byte(requestID)...)
}

// txStatusIterPrefix is the prefix shared by all index entries of a status.
func txStatusIterPrefix(status types.Status) []byte {
	key := append(append([]byte{}, txStatusPrefix...), []byte(status)...)
	return append(key, ':')
}

func txLastOKKey(assetID uint64) []byte {
	return append(append([]byte{}, txLastOKPrefix...), encodeID(assetID)...)
}
