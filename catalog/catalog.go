package catalog

import (
	"encoding/json"
	"sync"

	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/refilldb"
	"github.com/tos-network/refilld/types"
)

// Catalog exposes the typed accessors of the refill service over a raw
// key-value store. Reads go straight at the backend; writes serialize on a
// single mutex and commit record plus index mutations through one batch, so
// a crash can never leave an index pointing at a row that was not written.
type Catalog struct {
	db refilldb.Database

	writeMu sync.Mutex // serializes all write paths
	closeMu sync.RWMutex
	closed  bool

	log log.Logger
}

// Open wraps a key-value store with the catalog schema.
func Open(db refilldb.Database) *Catalog {
	return &Catalog{
		db:  db,
		log: log.New("component", "catalog"),
	}
}

// Close marks the catalog unusable. The underlying database is owned by the
// caller and stays open.
func (c *Catalog) Close() {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
}

func (c *Catalog) guard() error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Ping verifies the storage backend is reachable with one key roundtrip.
func (c *Catalog) Ping() error {
	if err := c.guard(); err != nil {
		return err
	}
	if _, err := c.db.Has(pingKey); err != nil {
		return storageError("ping", err)
	}
	return nil
}

// getRaw loads one key, distinguishing a missing key from a backend failure
// without depending on driver error strings.
func (c *Catalog) getRaw(op string, key []byte) ([]byte, bool, error) {
	ok, err := c.db.Has(key)
	if err != nil {
		return nil, false, storageError(op, err)
	}
	if !ok {
		return nil, false, nil
	}
	blob, err := c.db.Get(key)
	if err != nil {
		return nil, false, storageError(op, err)
	}
	return blob, true, nil
}

// getJSON loads and decodes one record. A missing key yields (false, nil).
func (c *Catalog) getJSON(op string, key []byte, into interface{}) (bool, error) {
	blob, ok, err := c.getRaw(op, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(blob, into); err != nil {
		return false, storageError(op, err)
	}
	return true, nil
}

// ChainByName resolves a chain by its case-insensitive name. A missing chain
// returns (nil, nil).
func (c *Catalog) ChainByName(name string) (*types.Chain, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	idEnc, ok, err := c.getRaw("chain by name", chainNameKey(name))
	if err != nil || !ok {
		return nil, err
	}
	return c.chainByID(decodeID(idEnc))
}

func (c *Catalog) chainByID(id uint64) (*types.Chain, error) {
	chain := new(types.Chain)
	ok, err := c.getJSON("chain by id", chainKey(id), chain)
	if err != nil || !ok {
		return nil, err
	}
	return chain, nil
}

// WalletByAddress resolves a wallet by its case-insensitive address. A
// missing wallet returns (nil, nil).
func (c *Catalog) WalletByAddress(address string) (*types.Wallet, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	idEnc, ok, err := c.getRaw("wallet by address", walletAddrKey(address))
	if err != nil || !ok {
		return nil, err
	}
	return c.walletByID(decodeID(idEnc))
}

func (c *Catalog) walletByID(id uint64) (*types.Wallet, error) {
	wallet := new(types.Wallet)
	ok, err := c.getJSON("wallet by id", walletKey(id), wallet)
	if err != nil || !ok {
		return nil, err
	}
	return wallet, nil
}

// AssetRecord is an asset joined with its chain and its hot wallet, the
// shape the admission pipeline consumes.
type AssetRecord struct {
	Asset  *types.Asset
	Chain  *types.Chain
	Wallet *types.Wallet
}

// AssetBySymbolAndChain resolves an asset by case-insensitive symbol within
// one chain and joins the chain and hot wallet rows. A missing asset returns
// (nil, nil); an asset whose joins dangle is surfaced as a storage error
// because the importer never writes such a state.
func (c *Catalog) AssetBySymbolAndChain(symbol string, chainID uint64) (*AssetRecord, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	idEnc, ok, err := c.getRaw("asset by symbol", assetSymbolKey(chainID, symbol))
	if err != nil || !ok {
		return nil, err
	}
	return c.assetRecordByID(decodeID(idEnc))
}

func (c *Catalog) assetByID(id uint64) (*types.Asset, error) {
	asset := new(types.Asset)
	ok, err := c.getJSON("asset by id", assetKey(id), asset)
	if err != nil || !ok {
		return nil, err
	}
	return asset, nil
}

func (c *Catalog) assetRecordByID(id uint64) (*AssetRecord, error) {
	asset, err := c.assetByID(id)
	if err != nil || asset == nil {
		return nil, err
	}
	chain, err := c.chainByID(asset.ChainID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, &Error{Op: "asset join", Err: errDanglingChain(asset.ID, asset.ChainID)}
	}
	wallet, err := c.walletByID(asset.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, &Error{Op: "asset join", Err: errDanglingWallet(asset.ID, asset.WalletID)}
	}
	return &AssetRecord{Asset: asset, Chain: chain, Wallet: wallet}, nil
}

// PutChain validates and stores a chain, updating the name index. An
// existing chain with the same id is replaced; its old name index entry is
// removed first.
func (c *Catalog) PutChain(chain *types.Chain) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := chain.Validate(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	batch := c.db.NewBatch()
	prev, err := c.chainByID(chain.ID)
	if err != nil {
		return err
	}
	if prev != nil && prev.Name != chain.Name {
		if err := batch.Delete(chainNameKey(prev.Name)); err != nil {
			return storageError("put chain", err)
		}
	}
	blob, err := json.Marshal(chain)
	if err != nil {
		return storageError("put chain", err)
	}
	if err := batch.Put(chainKey(chain.ID), blob); err != nil {
		return storageError("put chain", err)
	}
	if err := batch.Put(chainNameKey(chain.Name), encodeID(chain.ID)); err != nil {
		return storageError("put chain", err)
	}
	if err := batch.Write(); err != nil {
		return storageError("put chain", err)
	}
	return nil
}

// PutWallet validates and stores a wallet, updating the address index.
func (c *Catalog) PutWallet(wallet *types.Wallet) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := wallet.Validate(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	batch := c.db.NewBatch()
	prev, err := c.walletByID(wallet.ID)
	if err != nil {
		return err
	}
	if prev != nil && prev.Address != wallet.Address {
		if err := batch.Delete(walletAddrKey(prev.Address)); err != nil {
			return storageError("put wallet", err)
		}
	}
	blob, err := json.Marshal(wallet)
	if err != nil {
		return storageError("put wallet", err)
	}
	if err := batch.Put(walletKey(wallet.ID), blob); err != nil {
		return storageError("put wallet", err)
	}
	if err := batch.Put(walletAddrKey(wallet.Address), encodeID(wallet.ID)); err != nil {
		return storageError("put wallet", err)
	}
	if err := batch.Write(); err != nil {
		return storageError("put wallet", err)
	}
	return nil
}

// PutAsset validates and stores an asset, updating the symbol index. The
// chain and hot wallet the asset references must already exist.
func (c *Catalog) PutAsset(asset *types.Asset) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := asset.Validate(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	chain, err := c.chainByID(asset.ChainID)
	if err != nil {
		return err
	}
	if chain == nil {
		return errUnknownChain(asset.ChainID)
	}
	wallet, err := c.walletByID(asset.WalletID)
	if err != nil {
		return err
	}
	if wallet == nil {
		return errUnknownWallet(asset.WalletID)
	}

	batch := c.db.NewBatch()
	prev, err := c.assetByID(asset.ID)
	if err != nil {
		return err
	}
	if prev != nil && (prev.Symbol != asset.Symbol || prev.ChainID != asset.ChainID) {
		if err := batch.Delete(assetSymbolKey(prev.ChainID, prev.Symbol)); err != nil {
			return storageError("put asset", err)
		}
	}
	blob, err := json.Marshal(asset)
	if err != nil {
		return storageError("put asset", err)
	}
	if err := batch.Put(assetKey(asset.ID), blob); err != nil {
		return storageError("put asset", err)
	}
	if err := batch.Put(assetSymbolKey(asset.ChainID, asset.Symbol), encodeID(asset.ID)); err != nil {
		return storageError("put asset", err)
	}
	if err := batch.Write(); err != nil {
		return storageError("put asset", err)
	}
	return nil
}

// Chains lists every stored chain ordered by id.
func (c *Catalog) Chains() ([]*types.Chain, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	var chains []*types.Chain
	it := c.db.NewIterator(chainPrefix, nil)
	defer it.Release()
	for it.Next() {
		chain := new(types.Chain)
		if err := json.Unmarshal(it.Value(), chain); err != nil {
			return nil, storageError("list chains", err)
		}
		chains = append(chains, chain)
	}
	if err := it.Error(); err != nil {
		return nil, storageError("list chains", err)
	}
	return chains, nil
}

// Wallets lists every stored wallet ordered by id.
func (c *Catalog) Wallets() ([]*types.Wallet, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	var wallets []*types.Wallet
	it := c.db.NewIterator(walletPrefix, nil)
	defer it.Release()
	for it.Next() {
		wallet := new(types.Wallet)
		if err := json.Unmarshal(it.Value(), wallet); err != nil {
			return nil, storageError("list wallets", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := it.Error(); err != nil {
		return nil, storageError("list wallets", err)
	}
	return wallets, nil
}

// Assets lists every stored asset ordered by id.
func (c *Catalog) Assets() ([]*types.Asset, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	var assets []*types.Asset
	it := c.db.NewIterator(assetPrefix, nil)
	defer it.Release()
	for it.Next() {
		asset := new(types.Asset)
		if err := json.Unmarshal(it.Value(), asset); err != nil {
			return nil, storageError("list assets", err)
		}
		assets = append(assets, asset)
	}
	if err := it.Error(); err != nil {
		return nil, storageError("list assets", err)
	}
	return assets, nil
}
