// Package chain is the gateway to the Oddyssey contract: cycle publication,
// result submission, slip placement, and prize claims, with bounded retries
// and effect detection on ambiguous failures.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/oddyssey/engine/internal/domain"
)

const fallbackGasLimit = 1_500_000

// Client is the pgx-free, stateless chain gateway. Safe for concurrent use;
// nonce allocation is serialized by the node via PendingNonceAt.
type Client struct {
	eth      *ethclient.Client
	fallback *ethclient.Client
	abi      abi.ABI
	contract common.Address
	wallet   *Wallet
	chainID  *big.Int
	timeout  time.Duration
	retry    RetryPolicy
	logger   *slog.Logger
}

// Config carries the gateway wiring.
type Config struct {
	RPCURL          string
	FallbackRPCURL  string
	ContractAddress string
	OracleKey       string
	ChainID         int64
	Timeout         time.Duration
	MaxRetries      int
}

// NewClient dials the RPC endpoints and prepares the signing wallet.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	parsed, err := loadABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	wallet, err := NewWallet(cfg.OracleKey)
	if err != nil {
		return nil, fmt.Errorf("oracle wallet: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	var fallback *ethclient.Client
	if cfg.FallbackRPCURL != "" {
		fallback, err = ethclient.DialContext(ctx, cfg.FallbackRPCURL)
		if err != nil {
			logger.Warn("fallback rpc unavailable", "url", cfg.FallbackRPCURL, "error", err)
			fallback = nil
		}
	}

	return &Client{
		eth:      eth,
		fallback: fallback,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		wallet:   wallet,
		chainID:  big.NewInt(cfg.ChainID),
		timeout:  cfg.Timeout,
		retry:    DefaultRetryPolicy(cfg.MaxRetries),
		logger:   logger,
	}, nil
}

// OracleAddress returns the signing address used for cycle transactions.
func (c *Client) OracleAddress() common.Address { return c.wallet.Address() }

// GetCurrentCycleID reads dailyCycleId from the contract.
func (c *Client) GetCurrentCycleID(ctx context.Context) (int64, error) {
	var id int64
	err := c.retry.Do(ctx, c.logger, "dailyCycleId", func(ctx context.Context) error {
		raw, err := c.call(ctx, "dailyCycleId")
		if err != nil {
			return err
		}
		out, err := c.abi.Unpack("dailyCycleId", raw)
		if err != nil {
			return err
		}
		id = (*abi.ConvertType(out[0], new(big.Int)).(*big.Int)).Int64()
		return nil
	})
	return id, err
}

// GetUserSlipCount reads the slip count for a player, the natural key used
// to detect whether an ambiguous placeSlip actually landed.
func (c *Client) GetUserSlipCount(ctx context.Context, player common.Address) (int64, error) {
	var count int64
	err := c.retry.Do(ctx, c.logger, "getUserSlipCount", func(ctx context.Context) error {
		raw, err := c.call(ctx, "getUserSlipCount", player)
		if err != nil {
			return err
		}
		out, err := c.abi.Unpack("getUserSlipCount", raw)
		if err != nil {
			return err
		}
		count = (*abi.ConvertType(out[0], new(big.Int)).(*big.Int)).Int64()
		return nil
	})
	return count, err
}

// GetCycleMatches reads the ten on-chain match tuples of a cycle.
func (c *Client) GetCycleMatches(ctx context.Context, cycleID int64) ([]domain.CycleMatch, error) {
	var matches [10]ContractMatch
	err := c.retry.Do(ctx, c.logger, "getCycleMatches", func(ctx context.Context) error {
		raw, err := c.call(ctx, "getCycleMatches", big.NewInt(cycleID))
		if err != nil {
			return err
		}
		out, err := c.abi.Unpack("getCycleMatches", raw)
		if err != nil {
			return err
		}
		matches = *abi.ConvertType(out[0], new([10]ContractMatch)).(*[10]ContractMatch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.CycleMatch, 0, len(matches))
	for i, m := range matches {
		dm := FromContractMatch(m)
		dm.CycleID = cycleID
		dm.DisplayOrder = i + 1
		result = append(result, dm)
	}
	return result, nil
}

// SubmitDailyCycle publishes the ten matches as the next cycle. If the chain
// already advanced to cycleID the submission is treated as applied: the hash
// signed in this call is returned if there is one, otherwise
// ErrCycleAlreadyOnChain tells the caller to keep whatever hash it has on
// record.
func (c *Client) SubmitDailyCycle(ctx context.Context, cycleID int64, matches []domain.CycleMatch) (string, error) {
	if len(matches) != domain.MatchesPerCycle {
		return "", domain.ErrWrongMatchCount(len(matches))
	}
	var wire [10]ContractMatch
	for i, m := range matches {
		wire[i] = ToContractMatch(m)
	}

	var txHash string
	applied := false
	err := c.retry.Do(ctx, c.logger, "startDailyCycle", func(ctx context.Context) error {
		if current, err := c.GetCurrentCycleID(ctx); err == nil && current >= cycleID {
			c.logger.Info("cycle already on chain, skipping submit",
				"cycle_id", cycleID, "chain_cycle_id", current)
			applied = true
			return nil
		}
		hash, err := c.transact(ctx, "startDailyCycle", nil, wire)
		if err != nil {
			return err
		}
		txHash = hash
		return nil
	})
	if err != nil {
		if !IsTransient(err) {
			return "", domain.ErrContractReverted("startDailyCycle", err)
		}
		return "", err
	}
	if txHash == "" && applied {
		return "", domain.ErrCycleAlreadyOnChain(cycleID)
	}
	return txHash, nil
}

// SubmitCycleResults submits the ten result pairs for a cycle.
func (c *Client) SubmitCycleResults(ctx context.Context, cycleID int64, results []domain.MatchResult) (string, error) {
	if len(results) != domain.MatchesPerCycle {
		return "", domain.ErrWrongMatchCount(len(results))
	}
	var wire [10]ContractResult
	for i, r := range results {
		wire[i] = ToContractResult(r)
	}

	var txHash string
	err := c.retry.Do(ctx, c.logger, "resolveDailyCycle", func(ctx context.Context) error {
		hash, err := c.transact(ctx, "resolveDailyCycle", nil, big.NewInt(cycleID), wire)
		if err != nil {
			return err
		}
		txHash = hash
		return nil
	})
	if err != nil {
		if !IsTransient(err) {
			return "", domain.ErrContractReverted("resolveDailyCycle", err)
		}
		return "", err
	}
	return txHash, nil
}

// PlaceSlip submits a slip's ten predictions with the entry fee attached.
// On an ambiguous failure the user's slip count is re-read; if it advanced,
// the placement landed and the signed hash is returned.
func (c *Client) PlaceSlip(ctx context.Context, player common.Address, predictions []domain.Prediction, entryFee *big.Int) (string, error) {
	if len(predictions) != domain.MatchesPerCycle {
		return "", domain.ErrPredictionMismatch(fmt.Sprintf("slip has %d predictions, need %d", len(predictions), domain.MatchesPerCycle))
	}
	var wire [10]ContractPrediction
	for i, p := range predictions {
		wire[i] = ToContractPrediction(p)
	}

	countBefore, err := c.GetUserSlipCount(ctx, player)
	if err != nil {
		return "", err
	}

	var txHash string
	err = c.retry.Do(ctx, c.logger, "placeSlip", func(ctx context.Context) error {
		if txHash != "" {
			// A previous attempt signed and sent; confirm before re-sending.
			count, cerr := c.GetUserSlipCount(ctx, player)
			if cerr == nil && count > countBefore {
				return nil
			}
		}
		hash, err := c.transact(ctx, "placeSlip", entryFee, wire)
		if err != nil {
			return err
		}
		txHash = hash
		return nil
	})
	if err != nil {
		if !IsTransient(err) {
			return "", domain.ErrContractReverted("placeSlip", err)
		}
		return "", err
	}
	return txHash, nil
}

// ClaimPrize submits a claimPrize for the given cycle on behalf of the
// engine's relayer wallet.
func (c *Client) ClaimPrize(ctx context.Context, cycleID int64) (string, error) {
	var txHash string
	err := c.retry.Do(ctx, c.logger, "claimPrize", func(ctx context.Context) error {
		hash, err := c.transact(ctx, "claimPrize", nil, big.NewInt(cycleID))
		if err != nil {
			return err
		}
		txHash = hash
		return nil
	})
	if err != nil {
		if !IsTransient(err) {
			return "", domain.ErrContractReverted("claimPrize", err)
		}
		return "", err
	}
	return txHash, nil
}

// Ping verifies RPC reachability for health checks.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.eth.BlockNumber(ctx)
	return err
}

// call runs a read-only contract call, falling back to the secondary RPC on
// failure.
func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &c.contract, Data: data}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.eth.CallContract(callCtx, msg, nil)
	if err != nil && c.fallback != nil && IsTransient(err) {
		c.logger.Warn("primary rpc failed, using fallback", "method", method, "error", err)
		fbCtx, fbCancel := context.WithTimeout(ctx, c.timeout)
		defer fbCancel()
		raw, err = c.fallback.CallContract(fbCtx, msg, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return raw, nil
}

// transact signs and sends a state-changing call, returning the tx hash.
func (c *Client) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (string, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	txCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	from := c.wallet.Address()
	nonce, err := c.eth.PendingNonceAt(txCtx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(txCtx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit, err := c.eth.EstimateGas(txCtx, ethereum.CallMsg{
		From: from, To: &c.contract, Value: value, Data: data,
	})
	if err != nil {
		c.logger.Warn("gas estimation failed, using fallback limit", "method", method, "error", err)
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTransaction(nonce, c.contract, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.wallet.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(txCtx, signed); err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}

	hash := signed.Hash().Hex()
	c.logger.Info("transaction sent", "method", method, "tx_hash", hash, "nonce", nonce)
	return hash, nil
}
