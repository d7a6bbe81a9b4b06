package executor

import (
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// MaxBlockGas is the default block gas limit tinyevm runs under when the
// caller hasn't configured one, matching the upstream's generous ceiling
// meant to never be the thing that stops a fuzzed transaction.
const MaxBlockGas uint64 = 1_000_000_000_000_000

// TxGasLimit is the default per-transaction gas limit.
const TxGasLimit uint64 = 30_000_000

// defaultBalanceLimbs holds the 64-bit limbs, least significant first, of
// the upstream's default account balance. Nothing in this package reads
// it: accounts, owners included, start with whatever balance the caller
// inserts.
var defaultBalanceLimbs = [4]uint64{0, ^uint64(0), ^uint64(0), 0}

// Config mirrors the teacher's runtime.Config shape, extended with the
// environment-variable-driven toggles spec.md requires.
type Config struct {
	ChainConfig *params.ChainConfig
	Difficulty  *big.Int
	Coinbase    common.Address
	BlockNumber *big.Int
	Time        uint64
	GasLimit    uint64
	GasPrice    *big.Int
	BaseFee     *big.Int
	Random      *common.Hash

	EVMConfig vm.Config

	// CallTraceEnabled toggles whether the log inspector records call
	// traces, read from TINYEVM_CALL_TRACE_ENABLED at construction.
	CallTraceEnabled bool
}

// SetDefaults fills in every unset field the same way the teacher's
// runtime.SetDefaults does: an all-forks-enabled chain config pinned at
// block 0, a generous gas limit, and a deterministic GetHash fallback
// (supplied separately by the fork database, not here).
func SetDefaults(cfg *Config) {
	if cfg.ChainConfig == nil {
		shanghaiTime := uint64(0)
		cancunTime := uint64(0)
		cfg.ChainConfig = &params.ChainConfig{
			ChainID:                       big.NewInt(1),
			HomesteadBlock:                new(big.Int),
			DAOForkBlock:                  new(big.Int),
			EIP150Block:                   new(big.Int),
			EIP155Block:                   new(big.Int),
			EIP158Block:                   new(big.Int),
			ByzantiumBlock:                new(big.Int),
			ConstantinopleBlock:           new(big.Int),
			PetersburgBlock:               new(big.Int),
			IstanbulBlock:                 new(big.Int),
			MuirGlacierBlock:              new(big.Int),
			BerlinBlock:                   new(big.Int),
			LondonBlock:                   new(big.Int),
			TerminalTotalDifficulty:       big.NewInt(0),
			TerminalTotalDifficultyPassed: true,
			ShanghaiTime:                  &shanghaiTime,
			CancunTime:                    &cancunTime,
		}
	}
	if cfg.Difficulty == nil {
		cfg.Difficulty = new(big.Int)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = MaxBlockGas
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = new(big.Int)
	}
	if cfg.BlockNumber == nil {
		cfg.BlockNumber = new(big.Int)
	}
	if cfg.BaseFee == nil {
		cfg.BaseFee = big.NewInt(params.InitialBaseFee)
	}
	if t := cfg.ChainConfig.ShanghaiTime; cfg.ChainConfig.TerminalTotalDifficultyPassed || (t != nil && *t == 0) {
		h := common.Hash{}
		cfg.Random = &h
	}
	cfg.CallTraceEnabled = readBoolEnv("TINYEVM_CALL_TRACE_ENABLED", cfg.CallTraceEnabled)
}

func readBoolEnv(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// ciTestsEnabled reports whether TINYEVM_CI_TESTS is set to a true value,
// the switch under which tests that need a live network are skipped,
// matching spec.md's TINYEVM_CI_TESTS convention.
func ciTestsEnabled() bool {
	return readBoolEnv("TINYEVM_CI_TESTS", false)
}
