package aaveoracle

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// oracleABI covers the single view used to price one asset.
const oracleABI = `[
	{
		"inputs": [
			{"name": "asset", "type": "address"}
		],
		"name": "getAssetPrice",
		"outputs": [
			{"name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

func parseABI(abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
