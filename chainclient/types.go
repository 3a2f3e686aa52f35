package chainclient

import "encoding/json"

// apiEnvelope is the JSON envelope every daemon endpoint wraps its payload
// in. Status is "success" on ok; anything else is an error.
type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Block is a decoded block body as returned by /daemon/getblock with full
// transaction decoding.
type Block struct {
	Hash          string `json:"hash"`
	Height        int64  `json:"height"`
	Time          int64  `json:"time"`
	Confirmations int64  `json:"confirmations"`
	Tx            []Tx   `json:"tx"`
}

// Tx is a decoded transaction inside a block body or a getrawtransaction
// response.
type Tx struct {
	TxID string `json:"txid"`
	Vin  []Vin  `json:"vin"`
	Vout []Vout `json:"vout"`
}

// Vin is a transaction input. Coinbase inputs carry only the coinbase
// field. Some upstream versions inline the spender address; otherwise the
// referenced previous output must be looked up.
type Vin struct {
	Coinbase string `json:"coinbase,omitempty"`
	TxID     string `json:"txid,omitempty"`
	Vout     int    `json:"vout"`
	Address  string `json:"address,omitempty"`
}

// Vout is a transaction output.
type Vout struct {
	Value        float64      `json:"value"`
	N            int          `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey carries the decoded destination addresses of an output.
type ScriptPubKey struct {
	Addresses []string `json:"addresses"`
}

// clone returns a deep copy of the block. Cache entries are never handed out
// by reference.
func (b *Block) clone() *Block {
	if b == nil {
		return nil
	}
	cloned := *b
	cloned.Tx = make([]Tx, len(b.Tx))
	for i, tx := range b.Tx {
		clonedTx := tx
		clonedTx.Vin = append([]Vin(nil), tx.Vin...)
		clonedTx.Vout = make([]Vout, len(tx.Vout))
		for j, out := range tx.Vout {
			clonedOut := out
			clonedOut.ScriptPubKey.Addresses = append([]string(nil), out.ScriptPubKey.Addresses...)
			clonedTx.Vout[j] = clonedOut
		}
		cloned.Tx[i] = clonedTx
	}
	return &cloned
}

// BlockResult is the per-height outcome of a batch fetch. Either Block or
// Err is set, never both.
type BlockResult struct {
	Height int64
	Block  *Block
	Err    error
}
