package analyzer

import (
	"fmt"

	"github.com/2ndtlmining/fluxrevenue/chainclient"
)

// SenderKind tags how much is known about the sender of a payment.
type SenderKind int

// Sender kinds, in increasing order of knowledge.
const (
	// SenderUnknown means the input carried nothing usable.
	SenderUnknown SenderKind = iota

	// SenderUnresolved means the input references a previous output that
	// has to be looked up before the sender address is known.
	SenderUnresolved

	// SenderInline means the input carried the sender address itself.
	SenderInline
)

// Sender is the provisional sender of a payment. Unresolved senders carry
// the previous outpoint; the sync engine resolves them before persistence.
type Sender struct {
	Kind     SenderKind
	Address  string
	PrevTxID string
	PrevVout int
}

// String renders the sender the way it travels through logs: the address,
// the "prev:<txid>:<vout>" placeholder, or "Unknown".
func (s Sender) String() string {
	switch s.Kind {
	case SenderInline:
		return s.Address
	case SenderUnresolved:
		return fmt.Sprintf("prev:%s:%d", s.PrevTxID, s.PrevVout)
	default:
		return chainclient.UnknownAddress
	}
}

// Payment is one output of one transaction paying one watched address.
type Payment struct {
	BlockHeight   int64
	BlockHash     string
	BlockTime     int64
	Confirmations int64
	TxID          string
	VoutIndex     int
	Address       string
	Value         float64
	Sender        Sender
}

// AnalyzeBlock scans a block body for outputs paying any watched address and
// returns one payment per (output, matched address). Coinbase transactions
// are skipped. The function is pure: same inputs always produce the same
// output sequence, and the block is not modified.
func AnalyzeBlock(block *chainclient.Block, watched map[string]struct{}) []Payment {
	if block == nil || len(watched) == 0 {
		return nil
	}

	var payments []Payment
	for _, tx := range block.Tx {
		if isCoinbase(&tx) {
			continue
		}

		txPayments := analyzeTx(block, &tx, watched)
		payments = append(payments, txPayments...)
	}
	return payments
}

func analyzeTx(block *chainclient.Block, tx *chainclient.Tx, watched map[string]struct{}) []Payment {
	var payments []Payment
	for _, out := range tx.Vout {
		for _, address := range out.ScriptPubKey.Addresses {
			if _, ok := watched[address]; !ok {
				continue
			}
			payments = append(payments, Payment{
				BlockHeight:   block.Height,
				BlockHash:     block.Hash,
				BlockTime:     block.Time,
				Confirmations: block.Confirmations,
				TxID:          tx.TxID,
				VoutIndex:     out.N,
				Address:       address,
				Value:         out.Value,
			})
		}
	}
	if len(payments) == 0 {
		return nil
	}

	sender := provisionalSender(tx)
	for i := range payments {
		payments[i].Sender = sender
	}
	return payments
}

// provisionalSender derives what is knowable about the sender from the
// transaction's first input alone.
func provisionalSender(tx *chainclient.Tx) Sender {
	if len(tx.Vin) == 0 {
		return Sender{Kind: SenderUnknown}
	}
	first := tx.Vin[0]
	if first.Address != "" {
		return Sender{Kind: SenderInline, Address: first.Address}
	}
	if first.TxID != "" {
		return Sender{Kind: SenderUnresolved, PrevTxID: first.TxID, PrevVout: first.Vout}
	}
	return Sender{Kind: SenderUnknown}
}

func isCoinbase(tx *chainclient.Tx) bool {
	return len(tx.Vin) > 0 && tx.Vin[0].Coinbase != ""
}
