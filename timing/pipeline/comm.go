package pipeline

// FetchStruct carries the instructions fetched in one cycle to decode.
type FetchStruct struct {
	Insts []*DynInst
}

// DecodeStruct carries the instructions decoded in one cycle to rename.
type DecodeStruct struct {
	Insts []*DynInst
}

// RenameStruct carries the instructions renamed in one cycle to IEW and
// to the ROB.
type RenameStruct struct {
	Insts []*DynInst
}

// SquashRequest asks commit to squash one thread after an instruction
// resolved a misprediction or a memory-order violation.
type SquashRequest struct {
	Valid bool
	// Inst is the instruction that detected the problem.
	Inst *DynInst
	// SeqNum is the squash point: every younger instruction is removed.
	SeqNum uint64
	// Mispredict is set for a branch misprediction.
	Mispredict bool
	Taken      bool
	NextPC     uint64
}

// IEWStruct carries the instructions that finished executing in one cycle
// to commit, along with at most one squash request per thread.
type IEWStruct struct {
	Insts  []*DynInst
	Squash [MaxThreads]SquashRequest
}

// DecodeComm is decode's backward signal to fetch.
type DecodeComm struct {
	Squash bool
	// Inst is the branch decode resolved.
	Inst        *DynInst
	DoneSeqNum  uint64
	NextPC      uint64
	BranchTaken bool
	SquashEpoch uint64
}

// IEWComm is IEW's report of queue occupancy to rename. The Free counts
// are what the thread may still take; the TotalFree counts are the unused
// entries shared by every thread.
type IEWComm struct {
	UsedIQ             bool
	FreeIQEntries      int
	TotalFreeIQEntries int

	UsedLSQ            bool
	FreeLQEntries      int
	FreeSQEntries      int
	TotalFreeLQEntries int
	TotalFreeSQEntries int

	// Dispatched counts instructions taken from rename's output this
	// cycle, squashed ones included.
	Dispatched       int
	DispatchedLoads  int
	DispatchedStores int
}

// CommitComm is commit's backward signal to every earlier stage.
type CommitComm struct {
	UsedROB             bool
	FreeROBEntries      int
	TotalFreeROBEntries int
	EmptyROB            bool
	// ROBInserted counts instructions taken from rename's output this
	// cycle, squashed ones included.
	ROBInserted int

	Squash       bool
	ROBSquashing bool
	SquashSeqNum uint64
	SquashEpoch  uint64
	NextPC       uint64
	// Halt is set when the squash stops the thread.
	Halt bool

	BranchMispredict bool
	BranchTaken      bool
	MispredictInst   *DynInst

	// DoneSeqNum is the youngest instruction committed this cycle.
	DoneSeqNum uint64
	// NonSpecSeqNum releases a non-speculative instruction at the ROB head.
	NonSpecSeqNum uint64

	InterruptPending bool
}

// TimeStruct is the backward communication written by every stage each
// cycle.
type TimeStruct struct {
	DecodeInfo [MaxThreads]DecodeComm
	IEWInfo    [MaxThreads]IEWComm
	CommitInfo [MaxThreads]CommitComm

	DecodeBlock   [MaxThreads]bool
	DecodeUnblock [MaxThreads]bool
	RenameBlock   [MaxThreads]bool
	RenameUnblock [MaxThreads]bool
	IEWBlock      [MaxThreads]bool
	IEWUnblock    [MaxThreads]bool
}
