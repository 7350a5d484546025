package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"claimCurve/internal/fixedpoint"
)

// ParseAccounts converts named hex addresses into common.Address.
func ParseAccounts(inputs map[string]string) (map[string]common.Address, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make(map[string]common.Address, len(inputs))
	for _, name := range names {
		addr, err := ParseAddress(inputs[name])
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		accounts[strings.TrimSpace(name)] = addr
	}
	return accounts, nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// resolveAccount looks name up in accounts and falls back to a literal address.
func resolveAccount(accounts map[string]common.Address, name string) (common.Address, error) {
	if addr, ok := accounts[strings.TrimSpace(name)]; ok {
		return addr, nil
	}
	addr, err := ParseAddress(name)
	if err != nil {
		return common.Address{}, fmt.Errorf("unknown account %q", name)
	}
	return addr, nil
}

// parseNative reads a human token amount and converts it to native units,
// truncating digits finer than the token resolves. Empty means zero.
func parseNative(s string, decimals uint8) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(uint256.Int), nil
	}
	wad, err := fixedpoint.ParseWad(s)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DownscaleDown(wad, decimals)
}

// parseWadOr reads a human decimal as a WAD, returning fallback when empty.
func parseWadOr(s string, fallback *uint256.Int) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return fixedpoint.ParseWad(s)
}
