package consts

import "time"

// Concurrency limits
const (
	// DefaultMaxParallel is the executor concurrency bound when no workspace context sets one
	DefaultMaxParallel = 4
	// BatchFanoutFactor multiplies max_parallel_tasks to get the batch expansion cap
	BatchFanoutFactor = 10
	// MaxBatchSteps is the hard ceiling on steps emitted by one batch expansion
	MaxBatchSteps = 500
	// DefaultBatchCap applies when a batch is expanded without a workspace context
	DefaultBatchCap = 100
)

// Error and output truncation
const (
	// MaxErrorChars bounds ErrorMetadata.Error
	MaxErrorChars = 200
	// MaxToolOutputChars bounds captured handler output
	MaxToolOutputChars = 50000
	// MaxSummaryChars bounds the per-step output summary kept in session state
	MaxSummaryChars = 300
)

// Session snapshot limits
const (
	// SnapshotMaxFiles is the number of file paths included in a state dump
	SnapshotMaxFiles = 50
	// SnapshotMaxDirs is the number of directory paths included in a state dump
	SnapshotMaxDirs = 30
	// SnapshotLedgerEntries is the number of recent ledger entries included in a state dump
	SnapshotLedgerEntries = 10
	// PromptRecentSteps is the number of completed steps rendered into the prompt
	PromptRecentSteps = 15
	// LoopWindow is how many recent steps are inspected for repetition
	LoopWindow = 6
	// LoopThreshold is the run length of identical (tool, agent) pairs that counts as a loop
	LoopThreshold = 3
	// DefaultPromptTokenBudget bounds the rendered session summary
	DefaultPromptTokenBudget = 2000
)

// Buffer sizes for various operations
const (
	// BufferSize4KB is the read chunk size for process pipes
	BufferSize4KB = 4 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// LLM default configurations
const (
	// DefaultMaxTokens is the default maximum tokens for LLM responses
	DefaultMaxTokens = 1024
	// DefaultMaxSteps bounds one orchestrator run
	DefaultMaxSteps = 12
)

// Timeouts for various operations
const (
	// DefaultShellTimeout is used when a shell step does not pass one
	DefaultShellTimeout = 30 * time.Second
	// MaxShellTimeout caps caller-supplied shell timeouts
	MaxShellTimeout = 5 * time.Minute
	// DefaultStepTimeout bounds one executor step
	DefaultStepTimeout = 2 * time.Minute
	// DefaultCodeTimeout is used for execute_code
	DefaultCodeTimeout = 30 * time.Second
	// DefaultAgentTimeout bounds a remote agent call
	DefaultAgentTimeout = 60 * time.Second
	// DefaultHTTPTimeout is the client timeout for backend requests
	DefaultHTTPTimeout = 2 * time.Minute
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
)
