package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI surfaces for the two contracts the gateway touches. The escrow
// contract is an external collaborator; only the entry points the agent
// invokes are declared.

const erc20ABIJSON = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

const escrowABIJSON = `[
	{"name":"deposit","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"name":"depositNative","type":"function","stateMutability":"payable",
	 "inputs":[],
	 "outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"name":"balances","type":"function","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"createTrade","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"buyer","type":"address"},{"name":"token","type":"address"},
	           {"name":"amount","type":"uint256"},{"name":"duration","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"createTradeNative","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"buyer","type":"address"},{"name":"duration","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	erc20ABI  abi.ABI
	escrowABI abi.ABI
)

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("chain: parsing erc20 ABI: " + err.Error())
	}
	escrowABI, err = abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic("chain: parsing escrow ABI: " + err.Error())
	}
}
