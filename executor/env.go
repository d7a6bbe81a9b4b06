package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Environment field names accepted by GetEnvValue/SetEnvValue, matching
// the upstream's enum of mutable block/tx context knobs a fuzzer harness
// needs to twiddle between runs (gas price, block number, timestamp...)
// without rebuilding the whole Config.
const (
	FieldGasPrice       = "GAS_PRICE"
	FieldChainID        = "CHAIN_ID"
	FieldBlockNumber    = "BLOCK_NUMBER"
	FieldBlockTimestamp = "BLOCK_TIMESTAMP"
	FieldBlockDifficulty = "BLOCK_DIFFICULTY"
	FieldBlockGasLimit  = "BLOCK_GAS_LIMIT"
	FieldBlockBaseFee   = "BLOCK_BASE_FEE_PER_GAS"
	FieldOrigin         = "ORIGIN"
	FieldBlockCoinbase  = "BLOCK_COINBASE"
)

// GetEnvValue reads one block/tx context field by name, rendered as a hex
// string the same way bug/response data is rendered.
func (e *Executor) GetEnvValue(field string) (string, error) {
	switch field {
	case FieldGasPrice:
		return fmt.Sprintf("0x%x", e.Config.GasPrice), nil
	case FieldChainID:
		return fmt.Sprintf("0x%x", e.Config.ChainConfig.ChainID), nil
	case FieldBlockNumber:
		return fmt.Sprintf("0x%x", e.Config.BlockNumber), nil
	case FieldBlockTimestamp:
		return fmt.Sprintf("0x%x", e.Config.Time), nil
	case FieldBlockDifficulty:
		return fmt.Sprintf("0x%x", e.Config.Difficulty), nil
	case FieldBlockGasLimit:
		return fmt.Sprintf("0x%x", e.Config.GasLimit), nil
	case FieldBlockBaseFee:
		return fmt.Sprintf("0x%x", e.Config.BaseFee), nil
	case FieldOrigin:
		return e.Owner.Hex(), nil
	case FieldBlockCoinbase:
		return e.Config.Coinbase.Hex(), nil
	default:
		return "", fmt.Errorf("executor: unknown env field %q", field)
	}
}

// SetEnvValue writes one block/tx context field by name. Numeric fields are
// parsed as hex (the 0x prefix is optional); ORIGIN and BLOCK_COINBASE take
// a hex address.
func (e *Executor) SetEnvValue(field, value string) error {
	switch field {
	case FieldGasPrice:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.GasPrice = n
	case FieldChainID:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.ChainConfig.ChainID = n
	case FieldBlockNumber:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.BlockNumber = n
	case FieldBlockTimestamp:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.Time = n.Uint64()
	case FieldBlockDifficulty:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.Difficulty = n
	case FieldBlockGasLimit:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.GasLimit = n.Uint64()
	case FieldBlockBaseFee:
		n, ok := parseBigInt(value)
		if !ok {
			return fmt.Errorf("executor: invalid value for %s: %q", field, value)
		}
		e.Config.BaseFee = n
	case FieldOrigin:
		e.Owner = common.HexToAddress(value)
	case FieldBlockCoinbase:
		e.Config.Coinbase = common.HexToAddress(value)
	default:
		return fmt.Errorf("executor: unknown env field %q", field)
	}
	return nil
}

func parseBigInt(s string) (*big.Int, bool) {
	n := new(big.Int)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if _, ok := n.SetString(s, 16); !ok {
		return nil, false
	}
	return n, true
}
