// Command sgx-attestor runs the Attestor core (spec.md component C7): it
// watches the Verifier contract's RequestAttestation events, re-verifies
// each report's quote off-chain, and casts an on-chain vote. Flags and
// shutdown sequencing mirror cmd/sgx-prover and the teacher's main.go
// idiom.
//
// The on-chain Verifier a real deployment watches over JSON-RPC/WS is
// spec.md section 1's out-of-scope transport; this binary drives the
// in-process pkg/verifier.Contract model directly so the Attestor loop
// has a real Voter/LogSource to exercise end-to-end without that
// transport layer.
package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/sgx-prover/pkg/attestation"
	"github.com/certen/sgx-prover/pkg/attestor"
	"github.com/certen/sgx-prover/pkg/config"
	"github.com/certen/sgx-prover/pkg/metrics"
	"github.com/certen/sgx-prover/pkg/verifier"
)

func main() {
	var (
		configPath  = flag.String("c", "", "path to config file")
		dummyReport = flag.Bool("dummy_attestation_report", false, "self-issue a fake quote instead of calling the platform (dev)")
		_           = flag.Bool("insecure", false, "accepted for CLI compatibility with sgx-prover")
		_           = flag.Bool("release", false, "compile optimised (accepted for CLI compatibility)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sgx-attestor] ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("-c <config path> is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	attestCfg := attestation.DefaultConfig()
	attestCfg.Logger = log.New(os.Stdout, "[attestation] ", log.LstdFlags)
	if *dummyReport {
		attestCfg.Quote = attestation.Dummy{}
	} else {
		attestCfg.Quote = attestation.DCAP{Generator: nil}
	}
	attestService, err := attestation.New(attestCfg)
	if err != nil {
		logger.Fatalf("attestation init: %v", err)
	}
	self := common.Address(attestService.Address())

	dcap := verifier.PermissiveDCAP{}
	contract := verifier.New(self, cfg.Threshold, cfg.AttestValiditySeconds, dcap, big.NewInt(cfg.ChainID))
	// Self-administered single-attestor devnet bootstrap: a real
	// deployment registers attestors via the owner key out-of-band
	// (spec.md section 4.7), which this process stands in for since it
	// owns the in-process Contract it is also voting against.
	if err := contract.AddAttestors(self, []common.Address{self}); err != nil {
		logger.Fatalf("register attestor: %v", err)
	}

	acfg := attestor.DefaultConfig(self)
	acfg.RestartDepth = cfg.ReplayDepth
	acfg.MaxRetries = cfg.MaxVoteRetries
	acfg.ReceiptPollAttempts = cfg.ReceiptPollAttempts
	acfg.Logger = log.New(os.Stdout, "[attestor] ", log.LstdFlags)
	acfg.Metrics = metrics.New(prometheus.NewRegistry())

	source := attestor.NewContractLogSource(contract)
	svc := attestor.New(acfg, source, contract, dcap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx, 0)

	logger.Printf("attestor ready, address=%s", self.Hex())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		logger.Printf("attestor did not stop within timeout")
	}
	cancel()

	logger.Printf("stopped")
}
