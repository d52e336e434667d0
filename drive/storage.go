package drive

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned for accesses beyond the capacity of a storage.
var ErrOutOfRange = errors.New("drive: access beyond capacity")

// A Storage keeps the data of a drive.
//
// The storage is managed in units. Units that have never been written take no
// memory and read as zeros.
type Storage struct {
	lock     sync.RWMutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage of capacity bytes.
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the size of the storage in bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitsAllocated returns how many units hold data.
func (s *Storage) UnitsAllocated() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.data)
}

func (s *Storage) checkRange(address, length uint64) error {
	if address+length > s.capacity || address+length < address {
		return fmt.Errorf("%w: [%d, %d) of %d bytes",
			ErrOutOfRange, address, address+length, s.capacity)
	}

	return nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	res := make([]byte, length)

	for done := uint64(0); done < length; {
		baseAddr, inUnitAddr := s.parseAddress(address + done)
		n := min(s.unitSize-inUnitAddr, length-done)

		if unit, ok := s.data[baseAddr]; ok {
			copy(res[done:done+n], unit[inUnitAddr:inUnitAddr+n])
		}

		done += n
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for done := uint64(0); done < length; {
		baseAddr, inUnitAddr := s.parseAddress(address + done)
		n := min(s.unitSize-inUnitAddr, length-done)

		unit, ok := s.data[baseAddr]
		if !ok {
			unit = make([]byte, s.unitSize)
			s.data[baseAddr] = unit
		}

		copy(unit[inUnitAddr:inUnitAddr+n], data[done:done+n])
		done += n
	}

	return nil
}
