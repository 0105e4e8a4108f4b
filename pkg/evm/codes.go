package evm

import "sync"

// codeTable holds the contract bytecodes a witness supplied (spec.md
// section 3: "each witness contains... the codes needed by its
// transactions"), keyed by poseidon(code) so GetCode/GetCodeSize can be
// served without another trie lookup.
type codeTable struct {
	mu    sync.RWMutex
	byHash map[[32]byte][]byte
}

func newCodeTable() *codeTable {
	return &codeTable{byHash: make(map[[32]byte][]byte)}
}

func (c *codeTable) put(hash [32]byte, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHash[hash] = code
}

func (c *codeTable) get(hash [32]byte) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byHash[hash]
}
