package swapdb

import (
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
)

// StoreMock implements an in-memory swap store for tests.
type StoreMock struct {
	sync.RWMutex

	Contracts map[lntypes.Hash]*SwapContract
	Updates   map[lntypes.Hash][]SwapStateData
}

// A compile time flag to ensure that StoreMock implements SwapStore.
var _ SwapStore = (*StoreMock)(nil)

// NewStoreMock instantiates a new mock store.
func NewStoreMock() *StoreMock {
	return &StoreMock{
		Contracts: make(map[lntypes.Hash]*SwapContract),
		Updates:   make(map[lntypes.Hash][]SwapStateData),
	}
}

// CreateSwap stores a newly registered swap.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) CreateSwap(contract *SwapContract) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.Contracts[contract.Hash]; ok {
		return ErrSwapExists
	}

	s.Contracts[contract.Hash] = contract
	return nil
}

// UpdateSwap appends a state transition to a stored swap.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) UpdateSwap(hash lntypes.Hash, data SwapStateData) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.Contracts[hash]; !ok {
		return ErrSwapNotFound
	}

	s.Updates[hash] = append(s.Updates[hash], data)
	return nil
}

// FetchSwap returns a single swap with its update history.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) FetchSwap(hash lntypes.Hash) (*Swap, error) {
	s.RLock()
	defer s.RUnlock()

	contract, ok := s.Contracts[hash]
	if !ok {
		return nil, ErrSwapNotFound
	}

	return s.assembleSwap(contract, hash), nil
}

// FetchSwaps returns all stored swaps with their update histories.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) FetchSwaps() ([]*Swap, error) {
	s.RLock()
	defer s.RUnlock()

	swaps := make([]*Swap, 0, len(s.Contracts))
	for hash, contract := range s.Contracts {
		swaps = append(swaps, s.assembleSwap(contract, hash))
	}

	return swaps, nil
}

// DeleteSwap removes a retired swap entirely.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) DeleteSwap(hash lntypes.Hash) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.Contracts[hash]; !ok {
		return ErrSwapNotFound
	}

	delete(s.Contracts, hash)
	delete(s.Updates, hash)
	return nil
}

// Close releases the underlying database.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) Close() error {
	return nil
}

func (s *StoreMock) assembleSwap(contract *SwapContract,
	hash lntypes.Hash) *Swap {

	updates := make([]*SwapUpdate, len(s.Updates[hash]))
	for i, data := range s.Updates[hash] {
		updates[i] = &SwapUpdate{SwapStateData: data}
	}

	return &Swap{
		Contract: contract,
		Updates:  updates,
	}
}
