// Package memdep predicts and enforces ordering between loads and stores
// using the store set predictor of Chrysos and Emer.
package memdep

import (
	"fmt"

	"github.com/google/btree"
)

// Config holds the store set table sizes.
type Config struct {
	// SSITSize is the number of Store Set ID Table entries. Power of two.
	SSITSize int `json:"ssit_size" yaml:"ssit_size"`

	// LFSTSize is the number of Last Fetched Store Table entries. Power of
	// two.
	LFSTSize int `json:"lfst_size" yaml:"lfst_size"`

	// ClearPeriod is the number of memory instructions after which both
	// tables are cleared. 0 disables clearing.
	ClearPeriod int `json:"clear_period" yaml:"clear_period"`
}

// DefaultConfig returns the default store set configuration.
func DefaultConfig() Config {
	return Config{
		SSITSize:    1024,
		LFSTSize:    1024,
		ClearPeriod: 250000,
	}
}

// Validate checks the table sizes.
func (c Config) Validate() error {
	if c.SSITSize <= 0 || c.SSITSize&(c.SSITSize-1) != 0 {
		return fmt.Errorf("ssit_size must be a positive power of two, got %d", c.SSITSize)
	}
	if c.LFSTSize <= 0 || c.LFSTSize&(c.LFSTSize-1) != 0 {
		return fmt.Errorf("lfst_size must be a positive power of two, got %d", c.LFSTSize)
	}
	if c.ClearPeriod < 0 {
		return fmt.Errorf("clear_period must be >= 0")
	}
	return nil
}

// instOffsetBits drops the byte offset of 4-byte instruction words.
const instOffsetBits = 2

// storeItem is an in-flight store in the LFST, ordered by sequence number.
type storeItem struct {
	seq  uint64
	ssid int
	tid  int
}

func (s storeItem) Less(than btree.Item) bool {
	return s.seq < than.(storeItem).seq
}

// StoreSet predicts which in-flight store a load or store must wait for.
type StoreSet struct {
	cfg Config

	ssit      []int
	validSSIT []bool

	lfst      []uint64
	validLFST []bool

	storeList *btree.BTree

	memOps int
}

// NewStoreSet creates a store set predictor. The configuration must be
// valid.
func NewStoreSet(cfg Config) *StoreSet {
	return &StoreSet{
		cfg:       cfg,
		ssit:      make([]int, cfg.SSITSize),
		validSSIT: make([]bool, cfg.SSITSize),
		lfst:      make([]uint64, cfg.LFSTSize),
		validLFST: make([]bool, cfg.LFSTSize),
		storeList: btree.New(8),
	}
}

func (s *StoreSet) calcIndex(pc uint64) int {
	return int((pc >> instOffsetBits) & uint64(s.cfg.SSITSize-1))
}

func (s *StoreSet) calcSSID(pc uint64) int {
	return int((pc ^ (pc >> 10)) % uint64(s.cfg.LFSTSize))
}

// Violation records that the load at loadPC executed before an older store
// at storePC it depended on, placing both in the same store set.
func (s *StoreSet) Violation(storePC, loadPC uint64) {
	loadIdx := s.calcIndex(loadPC)
	storeIdx := s.calcIndex(storePC)

	validLoad := s.validSSIT[loadIdx]
	validStore := s.validSSIT[storeIdx]

	switch {
	case !validLoad && !validStore:
		ssid := s.calcSSID(loadPC)
		s.setSSIT(loadIdx, ssid)
		s.setSSIT(storeIdx, ssid)
	case validLoad && !validStore:
		s.setSSIT(storeIdx, s.ssit[loadIdx])
	case !validLoad && validStore:
		s.setSSIT(loadIdx, s.ssit[storeIdx])
	default:
		loadSSID, storeSSID := s.ssit[loadIdx], s.ssit[storeIdx]
		if storeSSID > loadSSID {
			s.ssit[storeIdx] = loadSSID
		} else {
			s.ssit[loadIdx] = storeSSID
		}
	}
}

func (s *StoreSet) setSSIT(idx, ssid int) {
	s.validSSIT[idx] = true
	s.ssit[idx] = ssid
}

// InsertLoad notes a load entering the window.
func (s *StoreSet) InsertLoad(pc, seq uint64) {
	s.checkClear()
}

// InsertStore makes a store the last fetched store of its set, if it has
// one.
func (s *StoreSet) InsertStore(pc, seq uint64, tid int) {
	s.checkClear()

	idx := s.calcIndex(pc)
	if !s.validSSIT[idx] {
		return
	}

	ssid := s.ssit[idx]
	s.lfst[ssid] = seq
	s.validLFST[ssid] = true
	s.storeList.ReplaceOrInsert(storeItem{seq: seq, ssid: ssid, tid: tid})
}

// CheckInst returns the sequence number of the in-flight store the
// instruction at pc is predicted to depend on, or 0.
func (s *StoreSet) CheckInst(pc uint64) uint64 {
	idx := s.calcIndex(pc)
	if !s.validSSIT[idx] {
		return 0
	}

	ssid := s.ssit[idx]
	if !s.validLFST[ssid] {
		return 0
	}
	return s.lfst[ssid]
}

// Issued removes an issued store from the LFST.
func (s *StoreSet) Issued(pc, seq uint64, isStore bool) {
	if !isStore {
		return
	}

	idx := s.calcIndex(pc)
	if !s.validSSIT[idx] {
		return
	}

	ssid := s.ssit[idx]
	if s.validLFST[ssid] && s.lfst[ssid] == seq {
		s.validLFST[ssid] = false
	}
	s.storeList.Delete(storeItem{seq: seq})
}

// Squash drops every in-flight store of thread tid younger than seq.
func (s *StoreSet) Squash(seq uint64, tid int) {
	var squashed []storeItem
	s.storeList.Descend(func(i btree.Item) bool {
		item := i.(storeItem)
		if item.seq <= seq {
			return false
		}
		if item.tid == tid {
			squashed = append(squashed, item)
		}
		return true
	})

	for _, item := range squashed {
		if s.validLFST[item.ssid] && s.lfst[item.ssid] == item.seq {
			s.validLFST[item.ssid] = false
		}
		s.storeList.Delete(item)
	}
}

// Clear invalidates both tables and forgets every in-flight store.
func (s *StoreSet) Clear() {
	for i := range s.validSSIT {
		s.validSSIT[i] = false
	}
	for i := range s.validLFST {
		s.validLFST[i] = false
	}
	s.storeList = btree.New(8)
	s.memOps = 0
}

// NumInFlightStores returns the number of stores tracked in the LFST.
func (s *StoreSet) NumInFlightStores() int {
	return s.storeList.Len()
}

func (s *StoreSet) checkClear() {
	if s.cfg.ClearPeriod == 0 {
		return
	}
	s.memOps++
	if s.memOps > s.cfg.ClearPeriod {
		s.Clear()
	}
}
