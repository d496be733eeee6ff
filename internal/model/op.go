package model

// Op is one of the twelve canonical operation names.
type Op string

const (
	OpEncode    Op = "Encode"
	OpLabel     Op = "Label"
	OpUpdate    Op = "Update"
	OpPromote   Op = "Promote"
	OpDemote    Op = "Demote"
	OpMerge     Op = "Merge"
	OpSplit     Op = "Split"
	OpLock      Op = "Lock"
	OpExpire    Op = "Expire"
	OpDelete    Op = "Delete"
	OpRetrieve  Op = "Retrieve"
	OpSummarize Op = "Summarize"
)

// AllOps lists every operation in dispatch order.
var AllOps = []Op{
	OpEncode, OpLabel, OpUpdate, OpPromote, OpDemote, OpMerge,
	OpSplit, OpLock, OpExpire, OpDelete, OpRetrieve, OpSummarize,
}

// Valid reports whether op is a canonical operation name.
func (op Op) Valid() bool {
	for _, o := range AllOps {
		if o == op {
			return true
		}
	}
	return false
}

// ReadOnly reports whether op never mutates the store.
func (op Op) ReadOnly() bool {
	return op == OpRetrieve || op == OpSummarize
}

// Stage groups operations into encode, storage and retrieval phases.
type Stage string

const (
	StageENC Stage = "ENC"
	StageSTO Stage = "STO"
	StageRET Stage = "RET"
)

// Stage returns the only stage op may run in.
func (op Op) Stage() Stage {
	switch op {
	case OpEncode:
		return StageENC
	case OpRetrieve, OpSummarize:
		return StageRET
	default:
		return StageSTO
	}
}
