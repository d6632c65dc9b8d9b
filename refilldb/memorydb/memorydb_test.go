package memorydb

import (
	"testing"

	"github.com/tos-network/refilld/refilldb"
	"github.com/tos-network/refilld/refilldb/dbtest"
)

func TestMemoryDB(t *testing.T) {
	t.Run("DatabaseSuite", func(t *testing.T) {
		dbtest.TestDatabaseSuite(t, func() refilldb.KeyValueStore {
			return New()
		})
	})
}
