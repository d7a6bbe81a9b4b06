package main

import (
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/tinyevm/tinyevm/executor"
	"github.com/tinyevm/tinyevm/forkdb"
)

func main() {
	exampleDeployAndCall()
}

// exampleDeployAndCall deploys a tiny contract that stores its calldata
// and echoes it back on SLOAD, then calls it and prints the return data,
// gas used, bugs and call traces collected along the way.
func exampleDeployAndCall() {
	runtimeCode := []byte{
		byte(vm.PUSH0), byte(vm.CALLDATALOAD),
		byte(vm.PUSH0), byte(vm.SSTORE),
		byte(vm.PUSH0), byte(vm.SLOAD),
		byte(vm.PUSH0), byte(vm.MSTORE),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH0), byte(vm.RETURN),
	}
	initCode := deployerFor(runtimeCode)

	db := forkdb.New()
	ex := executor.New(executor.Config{}, db)

	owner := common.HexToAddress("0x0000000000000000000000000000000000000001")
	ex.SetOwner(owner)
	ex.DB.InsertAccountInfo(owner, forkdb.Info{Balance: uint256.NewInt(1_000_000_000_000_000_000)}, nil)

	deployResp, err := ex.Deploy(initCode, nil, 0, nil)
	if err != nil {
		log.Fatal(err)
	}
	if !deployResp.Success {
		log.Fatalf("deploy failed: %s", deployResp.ExitReason)
	}
	log.Println("deployed at", deployResp.Address.Hex())

	input := hexutil.MustDecode("0x0000000000000000000000000000000000000000000000000000000000000020")
	callResp, err := ex.Call(deployResp.Address, input, nil, 0)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("-----------------------------------------------------------")
	log.Println("return data:", hexutil.Encode(callResp.Data))
	log.Println("gas used:", callResp.GasUsage)
	for _, b := range callResp.Bugs {
		log.Println("bug:", b)
	}
	for _, trace := range callResp.Traces {
		log.Println("trace:", trace.Scheme, trace.From.Hex(), "->", trace.To.Hex())
	}
}

// deployerFor wraps runtime code in a minimal init code sequence that
// copies it into memory and returns it, the same shape geth's own
// fixtures use for hand-assembled deploy bytecode.
func deployerFor(runtime []byte) []byte {
	out := []byte{
		byte(vm.PUSH1), byte(len(runtime)),
		byte(vm.DUP1),
		byte(vm.PUSH1), 0x09, // offset of runtime code within this init code (9 bytes precede it)
		byte(vm.PUSH0),
		byte(vm.CODECOPY),
		byte(vm.PUSH0),
		byte(vm.RETURN),
	}
	return append(out, runtime...)
}
