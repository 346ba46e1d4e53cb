package models

// Block represents a block as returned by the explorer's block-lookup endpoint.
type Block struct {
	Height       uint64
	Transactions []Transaction
}

// Transaction represents a single entry of a block's transaction list.
type Transaction struct {
	Hash     string `json:"tx_hash"`
	Coinbase bool   `json:"coinbase"`
}

// UserTransactions yields the hashes of the block's non-coinbase transactions, in block order.
func (b *Block) UserTransactions(yield func(string) bool) {
	for _, tx := range b.Transactions {
		if tx.Coinbase {
			continue
		}
		if !yield(tx.Hash) {
			return
		}
	}
}
