package swapdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/lntypes"
	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the default file name of the swap database.
	dbFileName = "swaps.db"

	// swapsBucketKey is the top level bucket holding all swaps. It is
	// keyed by the swap hash and leads to a nested sub-bucket per swap.
	//
	// maps: swapHash -> swapBucket
	swapsBucketKey = []byte("swaps")

	// contractKey stores the serialized swap contract inside the swap
	// bucket.
	contractKey = []byte("contract")

	// updatesBucketKey is the sub-bucket holding the swap's state
	// transitions. This list only ever grows.
	//
	// maps: updateNumber -> serialized update
	updatesBucketKey = []byte("updates")

	// ErrSwapExists is returned when creating a swap whose hash is
	// already stored.
	ErrSwapExists = errors.New("swap already stored")

	// ErrSwapNotFound is returned when a swap hash is unknown.
	ErrSwapNotFound = errors.New("swap not found")
)

// SwapStore persists pending swaps and their state transitions.
type SwapStore interface {
	// CreateSwap stores a newly registered swap.
	CreateSwap(contract *SwapContract) error

	// UpdateSwap appends a state transition to a stored swap.
	UpdateSwap(hash lntypes.Hash, data SwapStateData) error

	// FetchSwap returns a single swap with its update history.
	FetchSwap(hash lntypes.Hash) (*Swap, error)

	// FetchSwaps returns all stored swaps with their update histories.
	FetchSwaps() ([]*Swap, error)

	// DeleteSwap removes a retired swap entirely.
	DeleteSwap(hash lntypes.Hash) error

	// Close releases the underlying database.
	Close() error
}

// boltSwapStore stores swap data in boltdb.
type boltSwapStore struct {
	db *bbolt.DB
}

// A compile time flag to ensure that boltSwapStore implements SwapStore.
var _ SwapStore = (*boltSwapStore)(nil)

// NewBoltSwapStore opens, or creates if needed, the swap database at the
// given directory.
func NewBoltSwapStore(dbPath string) (SwapStore, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbFileName)
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(swapsBucketKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &boltSwapStore{db: db}, nil
}

// CreateSwap stores a newly registered swap.
func (s *boltSwapStore) CreateSwap(contract *SwapContract) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		swaps := tx.Bucket(swapsBucketKey)

		if swaps.Bucket(contract.Hash[:]) != nil {
			return ErrSwapExists
		}

		swapBucket, err := swaps.CreateBucket(contract.Hash[:])
		if err != nil {
			return err
		}

		if _, err := swapBucket.CreateBucket(
			updatesBucketKey,
		); err != nil {
			return err
		}

		value, err := serializeContract(contract)
		if err != nil {
			return err
		}

		return swapBucket.Put(contractKey, value)
	})
}

// UpdateSwap appends a state transition to a stored swap.
func (s *boltSwapStore) UpdateSwap(hash lntypes.Hash,
	data SwapStateData) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		swapBucket := tx.Bucket(swapsBucketKey).Bucket(hash[:])
		if swapBucket == nil {
			return ErrSwapNotFound
		}

		updates := swapBucket.Bucket(updatesBucketKey)

		id, err := updates.NextSequence()
		if err != nil {
			return err
		}

		value, err := serializeUpdate(data)
		if err != nil {
			return err
		}

		var key [8]byte
		byteOrder.PutUint64(key[:], id)

		return updates.Put(key[:], value)
	})
}

// FetchSwap returns a single swap with its update history.
func (s *boltSwapStore) FetchSwap(hash lntypes.Hash) (*Swap, error) {
	var swap *Swap

	err := s.db.View(func(tx *bbolt.Tx) error {
		swapBucket := tx.Bucket(swapsBucketKey).Bucket(hash[:])
		if swapBucket == nil {
			return ErrSwapNotFound
		}

		var err error
		swap, err = fetchSwap(swapBucket)
		return err
	})
	if err != nil {
		return nil, err
	}

	return swap, nil
}

// FetchSwaps returns all stored swaps with their update histories.
func (s *boltSwapStore) FetchSwaps() ([]*Swap, error) {
	var swaps []*Swap

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(swapsBucketKey).ForEach(
			func(key, value []byte) error {
				// Only sub-buckets hold swaps.
				if value != nil {
					return nil
				}

				swapBucket := tx.Bucket(swapsBucketKey).
					Bucket(key)

				swap, err := fetchSwap(swapBucket)
				if err != nil {
					return err
				}

				swaps = append(swaps, swap)
				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return swaps, nil
}

// DeleteSwap removes a retired swap entirely.
func (s *boltSwapStore) DeleteSwap(hash lntypes.Hash) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		swaps := tx.Bucket(swapsBucketKey)

		if swaps.Bucket(hash[:]) == nil {
			return ErrSwapNotFound
		}

		return swaps.DeleteBucket(hash[:])
	})
}

// Close releases the underlying database.
func (s *boltSwapStore) Close() error {
	return s.db.Close()
}

// fetchSwap reads one swap out of its bucket.
func fetchSwap(swapBucket *bbolt.Bucket) (*Swap, error) {
	rawContract := swapBucket.Get(contractKey)
	if rawContract == nil {
		return nil, fmt.Errorf("contract not found")
	}

	contract, err := deserializeContract(rawContract)
	if err != nil {
		return nil, err
	}

	swap := &Swap{Contract: contract}

	updates := swapBucket.Bucket(updatesBucketKey)
	err = updates.ForEach(func(_, value []byte) error {
		update, err := deserializeUpdate(value)
		if err != nil {
			return err
		}

		swap.Updates = append(swap.Updates, update)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return swap, nil
}
