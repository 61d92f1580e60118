package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// Settler finalizes an executed swap with an external system and returns an
// opaque settlement reference (e.g. a transaction hash). A settlement failure
// is terminal for the intent; the engine does not retry it.
type Settler interface {
	Settle(ctx context.Context, intentID string, executedAmount decimal.Decimal) (string, error)
}

// ChainSettler submits executeIntent transactions to the IntentX settlement
// contract over an Ethereum RPC endpoint.
type ChainSettler struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
}

var _ Settler = (*ChainSettler)(nil)

// NewChainSettler connects to the RPC endpoint and binds the settlement
// contract with a transactor derived from the private key.
func NewChainSettler(rpcURL, contractAddress, privateKeyHex string) (*ChainSettler, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %v", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	contractABI, err := getIntentXABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %v", err)
	}

	contract := bind.NewBoundContract(
		common.HexToAddress(contractAddress),
		contractABI,
		client,
		client,
		client,
	)

	return &ChainSettler{
		client:   client,
		contract: contract,
		auth:     auth,
	}, nil
}

// Settle submits executeIntent on-chain and waits for the transaction to be
// mined within the caller's deadline. The returned reference is the
// transaction hash.
func (s *ChainSettler) Settle(ctx context.Context, intentID string, executedAmount decimal.Decimal) (string, error) {
	// The contract keys intents by bytes32; local ids are hashed into that space.
	id32 := crypto.Keccak256Hash([]byte(intentID))

	amountWei := toWei(executedAmount)

	opts := *s.auth
	opts.Context = ctx

	tx, err := s.contract.Transact(&opts, "executeIntent", id32, amountWei)
	if err != nil {
		return "", fmt.Errorf("failed to submit settlement transaction: %v", err)
	}

	receipt, err := bind.WaitMined(ctx, s.client, tx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for settlement transaction %s: %v", tx.Hash().Hex(), err)
	}
	if receipt.Status != 1 {
		return "", fmt.Errorf("settlement transaction %s reverted", tx.Hash().Hex())
	}

	return tx.Hash().Hex(), nil
}

// toWei scales a decimal token amount to an 18-decimals integer.
func toWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).Truncate(0).BigInt()
}

// getIntentXABI returns the settlement contract ABI.
func getIntentXABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(`[
		{
			"inputs": [
				{
					"name": "intentId",
					"type": "bytes32"
				},
				{
					"name": "targetAmount",
					"type": "uint256"
				}
			],
			"name": "executeIntent",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{
					"name": "intentId",
					"type": "bytes32"
				}
			],
			"name": "cancelIntent",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`))
}
