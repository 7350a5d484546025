package token

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIStringJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const erc20ABIBytes32JSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

// The wrapped asset reports how much underlying one share redeems for, scaled by 1e18.
const yieldTokenABIJSON = `[
  {"inputs": [], "name": "exchangeRate", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

type lazyABI struct {
	json   string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.json))
	})
	return l.parsed, l.err
}

var (
	erc20String  = &lazyABI{json: erc20ABIStringJSON}
	erc20Bytes32 = &lazyABI{json: erc20ABIBytes32JSON}
	yieldToken   = &lazyABI{json: yieldTokenABIJSON}
)
