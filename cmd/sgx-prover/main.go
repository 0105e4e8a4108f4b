// Command sgx-prover runs the Prover core (spec.md component C4) behind
// a local JSON-RPC HTTP server. Flags and shutdown sequencing follow the
// teacher's main.go idiom (flag.*, os/signal + syscall, a cancellable
// background context, http.Server.Shutdown with a bounded timeout).
package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/sgx-prover/pkg/attestation"
	"github.com/certen/sgx-prover/pkg/config"
	"github.com/certen/sgx-prover/pkg/evm"
	"github.com/certen/sgx-prover/pkg/l2client"
	"github.com/certen/sgx-prover/pkg/metrics"
	"github.com/certen/sgx-prover/pkg/prover"
	"github.com/certen/sgx-prover/pkg/rpcserver"
)

func main() {
	var (
		configPath  = flag.String("c", "", "path to config file")
		insecure    = flag.Bool("insecure", false, "accept any attestation (dev)")
		dummyReport = flag.Bool("dummy_attestation_report", false, "self-issue a fake quote instead of calling the platform (dev)")
		_           = flag.Bool("release", false, "compile optimised (accepted for CLI compatibility; this build has no debug/release split)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sgx-prover] ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("-c <config path> is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	devMode := *insecure || *dummyReport

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	attestCfg := attestation.DefaultConfig()
	attestCfg.Logger = log.New(os.Stdout, "[attestation] ", log.LstdFlags)
	if *dummyReport {
		attestCfg.Quote = attestation.Dummy{}
	} else {
		// The real platform call (the SGX/TDX quoting enclave ioctl
		// path) is spec.md section 1's out-of-scope collaborator; wire
		// the seam so a real deployment only has to supply Generator.
		attestCfg.Quote = attestation.DCAP{Generator: nil}
	}
	attestService, err := attestation.New(attestCfg)
	if err != nil {
		logger.Fatalf("attestation init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l2, err := l2client.New(ctx, cfg.L2, big.NewInt(cfg.ChainID))
	if err != nil {
		logger.Fatalf("l2 client: %v", err)
	}

	driver := evm.New(evm.ChainConfig{
		ChainID:   big.NewInt(cfg.ChainID),
		EVMConfig: params.AllEthashProtocolChanges,
	})

	core := prover.New(attestService, l2, driver, big.NewInt(cfg.ChainID), m)
	rpc := rpcserver.New(core, devMode, m, log.New(os.Stdout, "[rpc] ", log.LstdFlags))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: rpc.Handler(),
	}
	if cfg.Server.BodyLimit > 0 {
		httpServer.Handler = http.MaxBytesHandler(rpc.Handler(), cfg.Server.BodyLimit)
	}

	go func() {
		logger.Printf("JSON-RPC listening on %s (devMode=%v)", cfg.Server.Addr, devMode)
		var serveErr error
		if cfg.Server.TLS != nil {
			serveErr = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("http server: %v", serveErr)
		}
	}()

	logger.Printf("prover ready, enclave address=%x", attestService.Address())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
		os.Exit(1)
	}

	logger.Printf("stopped")
}
