// Package l2client is the thin L2 full-node client (spec.md section 1
// names "the L2 node HTTP/WS client" as an out-of-scope external
// collaborator named by interface only, and component C9 in
// SPEC_FULL.md wires a concrete go-ethereum-backed implementation of
// it). The prover uses it only to fetch block bodies, transactions and
// witness state for a batch; it never sends transactions.
package l2client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/rollup"
)

// BlockFetcher is the capability the Prover core needs from an L2 node:
// fetch a contiguous range of blocks and their pre-state witness. It is
// an interface so tests and the `mock`/`validate` dev RPC methods can
// substitute a canned implementation without a live node.
type BlockFetcher interface {
	FetchWitness(ctx context.Context, fromBlock, toBlock uint64) (*rollup.Witness, error)
}

// Client is the go-ethereum-backed BlockFetcher. Building the actual
// sparse zkTrie witness (account/storage proofs, touched codes) is a
// full-node responsibility exposed through Scroll-family L2 nodes'
// non-standard `eth_getProof`/debug RPC surface. This client fetches
// blocks and headers only; it fills no proofs or codes into the
// rollup.Witness, and AccountProof returns an error.
type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
}

// New dials the L2 node's JSON-RPC endpoint.
func New(ctx context.Context, url string, chainID *big.Int) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errs.New(errs.Network, "l2client.New", err)
	}
	return &Client{rpc: rpc, chainID: chainID}, nil
}

// BlockHeader fetches one L2 block's header and converts it to the
// rollup package's wire shape.
func (c *Client) BlockHeader(ctx context.Context, number uint64) (*rollup.Header, error) {
	h, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, errs.New(errs.Network, "l2client.BlockHeader", err)
	}
	var baseFee uint64
	if h.BaseFee != nil {
		baseFee = h.BaseFee.Uint64()
	}
	return &rollup.Header{
		ParentHash:  h.ParentHash,
		Coinbase:    h.Coinbase,
		StateRoot:   h.Root,
		TxRoot:      h.TxHash,
		ReceiptRoot: h.ReceiptHash,
		Number:      h.Number.Uint64(),
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Timestamp:   h.Time,
		BaseFee:     baseFee,
	}, nil
}

// FetchWitness pulls each block in [fromBlock, toBlock] and its
// transactions. It does not itself fetch zkTrie proofs — spec.md
// section 1 puts "on-chain log-tailing" and the wire transport out of
// scope, and a real Scroll-family node's witness RPC is proprietary;
// FetchWitness is the seam a concrete witness-RPC adapter plugs into
// without pkg/prover changing.
func (c *Client) FetchWitness(ctx context.Context, fromBlock, toBlock uint64) (*rollup.Witness, error) {
	if fromBlock > toBlock {
		return nil, errs.New(errs.Internal, "l2client.FetchWitness", fmt.Errorf("fromBlock %d > toBlock %d", fromBlock, toBlock))
	}

	w := &rollup.Witness{}
	for n := fromBlock; n <= toBlock; n++ {
		block, err := c.rpc.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, errs.New(errs.Network, "l2client.FetchWitness", err)
		}
		header, err := c.BlockHeader(ctx, n)
		if err != nil {
			return nil, err
		}
		w.Blocks = append(w.Blocks, &rollup.BlockWitness{
			Block: &rollup.Block{Header: header, Txs: block.Transactions()},
		})
	}
	return w, nil
}

// AccountProof fetches an eth_getProof-style account proof. Scroll's
// zkTrie proof format differs from upstream geth's hexary-MPT
// eth_getProof; a real deployment must swap this for the L2 node's
// zkTrie-flavoured proof RPC. It is kept here, rather than folded into
// FetchWitness, so that substitution is a one-method change.
func (c *Client) AccountProof(ctx context.Context, addr common.Address, blockNumber uint64) ([]byte, error) {
	return nil, errs.New(errs.Internal, "l2client.AccountProof",
		fmt.Errorf("zkTrie account-proof RPC not wired for this node"))
}
