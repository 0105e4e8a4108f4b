package attestor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type fakeSource struct {
	mu     sync.Mutex
	events []Event
	polled bool
}

func (f *fakeSource) Poll(ctx context.Context, fromBlock uint64) ([]Event, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polled {
		return nil, fromBlock, nil
	}
	f.polled = true
	return f.events, fromBlock + 1, nil
}

type fakeVoter struct {
	mu       sync.Mutex
	attestor common.Address
	votes    []common.Hash
}

func (f *fakeVoter) IsAttestor(addr common.Address) bool { return addr == f.attestor }

func (f *fakeVoter) VoteAttestationReport(attestor common.Address, h common.Hash, approve bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, h)
	return nil
}

type fakeQuote struct{ valid bool }

func (f fakeQuote) VerifyAttestation([]byte, [64]byte) bool { return f.valid }

func TestServiceVotesOnEachEvent(t *testing.T) {
	self := common.HexToAddress("0xa000000000000000000000000000000000000a")
	h := common.HexToHash("0x01")

	source := &fakeSource{events: []Event{{Hash: h, ReportBytes: []byte("quote")}}}
	voter := &fakeVoter{attestor: self}

	cfg := DefaultConfig(self)
	cfg.PollInterval = 10 * time.Millisecond

	svc := New(cfg, source, voter, fakeQuote{valid: true})
	svc.Start(context.Background(), 1000)

	deadline := time.After(2 * time.Second)
	for {
		voter.mu.Lock()
		n := len(voter.votes)
		voter.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a vote")
		case <-time.After(5 * time.Millisecond):
		}
	}
	svc.Stop()

	voter.mu.Lock()
	defer voter.mu.Unlock()
	if len(voter.votes) != 1 || voter.votes[0] != h {
		t.Fatalf("expected exactly one vote for %s, got %v", h.Hex(), voter.votes)
	}
}

func TestServiceSkipsWhenNotRegisteredAttestor(t *testing.T) {
	self := common.HexToAddress("0xa000000000000000000000000000000000000a")
	other := common.HexToAddress("0xb000000000000000000000000000000000000b")
	h := common.HexToHash("0x02")

	source := &fakeSource{events: []Event{{Hash: h, ReportBytes: []byte("quote")}}}
	voter := &fakeVoter{attestor: other}

	cfg := DefaultConfig(self)
	cfg.PollInterval = 10 * time.Millisecond

	svc := New(cfg, source, voter, fakeQuote{valid: true})
	svc.Start(context.Background(), 1000)

	time.Sleep(100 * time.Millisecond)
	svc.Stop()

	voter.mu.Lock()
	defer voter.mu.Unlock()
	if len(voter.votes) != 0 {
		t.Fatalf("expected no votes when not a registered attestor, got %v", voter.votes)
	}
}
