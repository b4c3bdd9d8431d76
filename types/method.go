package types

// Optimization tiers reported by the JIT order table.
const (
	TierMinOpts   = 0
	TierOptimized = 1
)

// MethodEvent is one row of the JIT order table printed by a test run with
// COMPlus_JitOrder=1. Counts that a tier does not report are -1.
type MethodEvent struct {
	MethodID           string `json:"method_id"`
	Annotation         string `json:"annotation"`
	Region             string `json:"region"`
	ProfileCallCount   string `json:"profile_call_count"`
	HasEH              bool   `json:"has_eh"`
	FrameType          string `json:"frame_type"`
	HasLoops           bool   `json:"has_loops"`
	CallCount          int64  `json:"call_count"`
	IndirectCallCount  int64  `json:"indirect_call_count"`
	BasicBlockCount    int64  `json:"basic_block_count"`
	LocalVarCount      int64  `json:"local_var_count"`
	Tier               int    `json:"tier"`
	AssertionPropCount int64  `json:"assertion_prop_count"`
	CSECount           int64  `json:"cse_count"`
	RegisterAllocator  string `json:"register_allocator"`
	ILBytes            int64  `json:"il_bytes"`
	HotCodeSize        int64  `json:"hot_code_size"`
	ColdCodeSize       int64  `json:"cold_code_size"`
	MethodName         string `json:"method_name"`
}
