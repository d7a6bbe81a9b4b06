// Command tinyevm-bench is a tiny CLI harness exercising the executor
// façade end to end, the tinyevm analog of the teacher's example/
// directory: deploy a contract (optionally forking live state from an RPC
// endpoint), call it N times, and print gas usage, bugs found and
// coverage reached.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tinyevm/tinyevm/cache"
	"github.com/tinyevm/tinyevm/executor"
	"github.com/tinyevm/tinyevm/fork"
	"github.com/tinyevm/tinyevm/forkdb"
	"github.com/tinyevm/tinyevm/rpcclient"
)

func main() {
	var (
		rpcEndpoint = flag.String("rpc", "", "fork from this JSON-RPC endpoint (empty disables forking)")
		chain       = flag.String("chain", "mainnet", "chain label for the provider cache")
		codeHex     = flag.String("code", "", "init code, hex-encoded (0x-prefixed or not)")
		inputHex    = flag.String("input", "", "calldata for the post-deploy call, hex-encoded")
		iterations  = flag.Int("n", 1, "number of times to call the deployed contract")
	)
	flag.Parse()

	if *codeHex == "" {
		log.Fatal("tinyevm-bench: -code is required")
	}
	code, err := hexDecode(*codeHex)
	if err != nil {
		log.Fatalf("tinyevm-bench: decode code: %v", err)
	}
	input, err := hexDecode(*inputHex)
	if err != nil {
		log.Fatalf("tinyevm-bench: decode input: %v", err)
	}

	db := forkdb.New()
	if *rpcEndpoint != "" {
		provider := fork.NewProvider(*chain, rpcclient.NewClient(*rpcEndpoint), cache.NewFSCache())
		db = forkdb.NewWithProvider(context.Background(), provider, nil)
	}

	ex := executor.New(executor.Config{}, db)
	owner := common.HexToAddress("0x1000000000000000000000000000000000000a")
	ex.SetOwner(owner)
	ex.DB.InsertAccountInfo(owner, forkdb.Info{Balance: uint256.NewInt(1_000_000_000_000_000_000)}, nil)

	start := time.Now()
	deployResp, err := ex.Deploy(code, nil, 0, nil)
	if err != nil {
		log.Fatalf("tinyevm-bench: deploy: %v", err)
	}
	fmt.Printf("deploy: success=%v address=%s gas=%d (%s)\n", deployResp.Success, deployResp.Address.Hex(), deployResp.GasUsage, time.Since(start))
	if !deployResp.Success {
		os.Exit(1)
	}

	for i := 0; i < *iterations; i++ {
		resp, err := ex.Call(deployResp.Address, input, nil, 0)
		if err != nil {
			log.Fatalf("tinyevm-bench: call %d: %v", i, err)
		}
		fmt.Printf("call %d: success=%v gas=%d bugs=%d coverage=%d\n", i, resp.Success, resp.GasUsage, len(resp.Bugs), len(resp.Coverage))
	}
}

func hexDecode(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
