package chain

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// routerABI is the subset of the PancakeSwap V2 router used when no ABI file is deployed.
const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

const (
	// methodSellNative sells the native asset: BNB in, USDT out.
	methodSellNative = "swapExactETHForTokens"
	// methodBuyNative buys the native asset: USDT in, BNB out. Entry points
	// are chosen by asset flow, so a BUY of BNB spends the quote token here.
	methodBuyNative = "swapExactTokensForETH"
)

// LoadRouterABI reads the router interface definition from path. A missing
// file falls back to the built-in definition; a present but broken file is an error.
func LoadRouterABI(path string) (abi.ABI, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || path == "" {
		parsed, perr := abi.JSON(strings.NewReader(routerABI))
		return parsed, false, perr
	}
	if err != nil {
		return abi.ABI{}, false, fmt.Errorf("read router abi: %w", err)
	}

	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, false, fmt.Errorf("parse router abi %s: %w", path, err)
	}
	for _, name := range []string{methodSellNative, methodBuyNative} {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, false, fmt.Errorf("router abi %s lacks %s", path, name)
		}
	}
	return parsed, true, nil
}
