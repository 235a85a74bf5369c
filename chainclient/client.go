// Package chainclient declares the narrow interface the proxy needs from a
// host chain node. The core never talks to a concrete RPC transport itself
// (that is an external collaborator per spec §1); it only depends on this
// interface, which applications satisfy with whatever client library fits
// their chain.
package chainclient

import "context"

// BlockDAGInfo reports the node's current view of the chain tip.
type BlockDAGInfo struct {
	Sink string
}

// AcceptedTransactionIDs pairs one accepting block with the ordered list of
// transaction ids the node says it accepted there.
type AcceptedTransactionIDs struct {
	AcceptingBlockHash     string
	AcceptedTransactionIDs []string
}

// VirtualChainResponse is the result of following the chain forward (and
// possibly backward, on reorg) from a given sink.
type VirtualChainResponse struct {
	RemovedChainBlockHashes []string
	AcceptedTransactionIDs  []AcceptedTransactionIDs
}

// ScriptPublicKey is a UTXO output's locking script.
type ScriptPublicKey struct {
	Version uint16
	Script  []byte
}

// TxOutput is one output of a chain transaction.
type TxOutput struct {
	Value           uint64
	ScriptPublicKey ScriptPublicKey
}

// TxVerboseData carries the transaction's own identity.
type TxVerboseData struct {
	TransactionID string
}

// Transaction is a chain transaction as returned by GetBlock.
type Transaction struct {
	Payload []byte
	Outputs []TxOutput
	Verbose TxVerboseData
}

// BlockHeader is the subset of a block header the proxy needs.
type BlockHeader struct {
	TimestampMs int64
	DaaScore    uint64
}

// BlockVerboseData carries the DAG-topology fields needed to reconstruct a
// mergeset.
type BlockVerboseData struct {
	SelectedParentHash  string
	MergeSetBluesHashes []string
	MergeSetRedsHashes  []string
}

// Block is a chain block, optionally with its transactions populated.
type Block struct {
	Hash         string
	Header       BlockHeader
	Verbose      BlockVerboseData
	Transactions []Transaction
}

// Client is everything the proxy consumes from a host chain node.
type Client interface {
	GetBlockDAGInfo(ctx context.Context) (BlockDAGInfo, error)
	GetVirtualChainFromBlock(ctx context.Context, sink string, includeAcceptedTxIDs bool) (VirtualChainResponse, error)
	GetBlock(ctx context.Context, hash string, includeTransactions bool) (Block, error)
	SubmitTransaction(ctx context.Context, tx []byte, allowOrphan bool) error
}

// FailureClass buckets SubmitTransaction errors so callers know whether to
// retry. Terminal failures (invalid transaction) must not be retried;
// transient ones (disconnect, orphan) should be, with backoff.
type FailureClass int

const (
	FailurePermanent FailureClass = iota
	FailureTransientDisconnect
	FailureTransientOrphan
	FailureAlreadyAccepted
)

// SubmitError carries the classification alongside the underlying error.
type SubmitError struct {
	Class FailureClass
	Err   error
}

func (e *SubmitError) Error() string { return e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }

// Retryable reports whether the core's submit-transaction retry loop should
// attempt this submission again. An "already accepted" response is treated
// as success, not as a retryable failure, so it is excluded here.
func (e *SubmitError) Retryable() bool {
	return e.Class == FailureTransientDisconnect || e.Class == FailureTransientOrphan
}
