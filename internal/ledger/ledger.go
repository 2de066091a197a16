// Package ledger adapts the coordination plane to the external
// smart-contract ledger: task observation, weights submission, and event
// polling with dedup. Chain interaction uses go-ethereum's ethclient, ABI,
// and crypto packages for contract calls, event decoding, and transaction
// signing.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"fedlearn-node/internal/errs"
	"fedlearn-node/internal/roundstate"
	"fedlearn-node/internal/wire"
)

const pollInterval = 5 * time.Second

// taskABIJSON is the minimal event/method surface the coordinator needs
// against the task-escrow contract: task registration, weights submission,
// and the two lifecycle events it listens for.
const taskABIJSON = `[
  {"type":"function","name":"getTaskId","stateMutability":"view","inputs":[{"name":"modelRef","type":"bytes32"},{"name":"datasetRef","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tasks","stateMutability":"view","inputs":[{"name":"taskId","type":"uint256"}],"outputs":[
    {"name":"depositor","type":"address"},
    {"name":"modelRef","type":"bytes32"},
    {"name":"datasetRef","type":"bytes32"},
    {"name":"totalChunks","type":"uint32"},
    {"name":"remainingChunks","type":"uint32"},
    {"name":"perChunkReward","type":"uint256"},
    {"name":"exists","type":"bool"}
  ]},
  {"type":"function","name":"submitWeights","stateMutability":"nonpayable","inputs":[{"name":"taskId","type":"uint256"},{"name":"weightsHash","type":"bytes32"}],"outputs":[]},
  {"type":"event","name":"TaskCreated","inputs":[{"name":"taskId","type":"uint256","indexed":true},{"name":"depositor","type":"address","indexed":true}]},
  {"type":"event","name":"WeightsSubmitted","inputs":[
    {"name":"taskId","type":"uint256","indexed":true},
    {"name":"trainer","type":"address","indexed":true},
    {"name":"weightsHash","type":"bytes32"},
    {"name":"rewardAmount","type":"uint256"},
    {"name":"remainingChunksAfter","type":"uint32"}
  ]},
  {"type":"event","name":"TaskCompleted","inputs":[{"name":"taskId","type":"uint256","indexed":true}]}
]`

// Event is a decoded contract log delivered by ObserveEvents.
type Event struct {
	Kind                 string // "WeightsSubmitted" | "TaskCompleted"
	TaskID               uint64
	Trainer              string
	WeightsHash          string
	RewardAmount         *big.Int
	RemainingChunksAfter uint32
	TxHash               string
	LogIndex             uint
}

// Ledger is the interface the client and trainer state machines depend on;
// satisfied by Contract below and by fakes in tests.
type Ledger interface {
	GetTask(ctx context.Context, taskID uint64) (roundstate.Task, error)
	SubmitWeights(ctx context.Context, taskID uint64, weightsHash string) error
	ObserveEvents(ctx context.Context, taskID uint64) (<-chan Event, error)
	PublishLog(ctx context.Context, message string) error
}

// Publisher is the narrow overlay surface PublishLog needs: publish framed
// bytes on a topic. Satisfied by *overlay.Node; narrowed here so tests can
// substitute a fake instead of standing up a real libp2p host.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// Contract is the production Ledger backed by an Ethereum-compatible JSON-RPC
// endpoint and a deployed task-escrow contract.
type Contract struct {
	client     *ethclient.Client
	abi        abi.ABI
	contract   common.Address
	privKey    *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	logTopicID string
	publisher  Publisher

	seenMu sync.Mutex
	seen   map[string]struct{} // txHash/logIndex dedup, across all ObserveEvents streams
}

// Dial connects to rpcURL and prepares a Contract bound to contractAddr,
// signing transactions with the given hex-encoded ECDSA private key.
// PublishLog republishes over publisher on logTopicID, so every role wires
// in its own overlay node here.
func Dial(ctx context.Context, rpcURL, contractAddr, privKeyHex, logTopicID string, publisher Publisher) (*Contract, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(taskABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}

	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse operator key: %w", err)
	}
	from := crypto.PubkeyToAddress(priv.PublicKey)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch chain id: %w", err)
	}

	return &Contract{
		client:     client,
		abi:        parsed,
		contract:   common.HexToAddress(contractAddr),
		privKey:    priv,
		from:       from,
		chainID:    chainID,
		logTopicID: logTopicID,
		publisher:  publisher,
		seen:       make(map[string]struct{}),
	}, nil
}

// AddressFromPrivateKeyHex derives the hex-encoded signing address for a
// node's OPERATOR_KEY, the same identity Contract.SubmitWeights signs
// transactions with. Client and Trainer announce this address alongside
// their overlay peer id (wire.AnnounceRolePayload.Address) so a client can
// translate an incoming WeightsSubmitted event's trainer address back to
// the peer it assigned the chunk to.
func AddressFromPrivateKeyHex(privKeyHex string) (string, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("ledger: parse operator key: %w", err)
	}
	return crypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
}

// GetTask reads the current task record via the contract's `tasks` view.
func (c *Contract) GetTask(ctx context.Context, taskID uint64) (roundstate.Task, error) {
	data, err := c.abi.Pack("tasks", new(big.Int).SetUint64(taskID))
	if err != nil {
		return roundstate.Task{}, fmt.Errorf("ledger: pack tasks call: %w", err)
	}
	out, err := c.client.CallContract(ctx, ethereumCallMsg(c.contract, data), nil)
	if err != nil {
		return roundstate.Task{}, fmt.Errorf("ledger: call tasks: %w", err)
	}

	vals, err := c.abi.Unpack("tasks", out)
	if err != nil {
		return roundstate.Task{}, fmt.Errorf("ledger: unpack tasks: %w", err)
	}
	if len(vals) != 7 {
		return roundstate.Task{}, fmt.Errorf("ledger: unexpected tasks() return shape")
	}

	task := roundstate.Task{
		TaskID:          taskID,
		Depositor:       vals[0].(common.Address).Hex(),
		ModelRef:        common.Hash(vals[1].([32]byte)).Hex(),
		DatasetRef:      common.Hash(vals[2].([32]byte)).Hex(),
		TotalChunks:     vals[3].(uint32),
		RemainingChunks: vals[4].(uint32),
		PerChunkReward:  vals[5].(*big.Int).Uint64(),
		Exists:          vals[6].(bool),
	}
	if !task.Exists {
		return task, errs.ErrTaskNotFound
	}
	return task, nil
}

// SubmitWeights signs and sends a submitWeights transaction.
// ErrContractRevert and ErrInvalidSignature are non-retriable; the caller
// distinguishes them via errs.Transient.
func (c *Contract) SubmitWeights(ctx context.Context, taskID uint64, weightsHash string) error {
	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return fmt.Errorf("ledger: fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("ledger: suggest gas price: %w", err)
	}

	var hashBytes [32]byte
	copy(hashBytes[:], common.HexToHash(weightsHash).Bytes())
	data, err := c.abi.Pack("submitWeights", new(big.Int).SetUint64(taskID), hashBytes)
	if err != nil {
		return fmt.Errorf("ledger: pack submitWeights: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		GasPrice: gasPrice,
		Gas:      300000,
		Data:     data,
	})
	signer := types.LatestSignerForChainID(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.privKey)
	if err != nil {
		return fmt.Errorf("%w: sign submitWeights: %v", errs.ErrInvalidSignature, err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "revert") {
			return fmt.Errorf("%w: %v", errs.ErrContractRevert, err)
		}
		return fmt.Errorf("ledger: send submitWeights: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return fmt.Errorf("ledger: wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: submitWeights reverted for task %d", errs.ErrContractRevert, taskID)
	}
	return nil
}

// ObserveEvents polls for WeightsSubmitted/TaskCompleted logs matching
// taskID every pollInterval, deduplicating by (txHash, logIndex). The
// returned channel closes when ctx is cancelled.
func (c *Contract) ObserveEvents(ctx context.Context, taskID uint64) (<-chan Event, error) {
	out := make(chan Event)
	topicTaskID := common.BigToHash(new(big.Int).SetUint64(taskID))

	weightsSubmitted := c.abi.Events["WeightsSubmitted"].ID
	taskCompleted := c.abi.Events["TaskCompleted"].ID

	go func() {
		defer close(out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			var fromBlock uint64
			if head, err := c.client.BlockNumber(ctx); err == nil && head > 64 {
				fromBlock = head - 64 // re-read a bounded recent window each poll
			}
			query := ethereumFilterQuery(c.contract, fromBlock, []common.Hash{weightsSubmitted, taskCompleted}, topicTaskID)
			logs, err := c.client.FilterLogs(ctx, query)
			if err != nil {
				logrus.Warnf("ledger: filter logs for task %d: %v", taskID, err)
			} else {
				for _, lg := range logs {
					if c.markSeen(lg.TxHash.Hex(), lg.Index) {
						continue
					}
					if ev, ok := c.decode(lg, weightsSubmitted, taskCompleted); ok {
						select {
						case out <- ev:
						case <-ctx.Done():
							return
						}
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

func (c *Contract) markSeen(txHash string, logIndex uint) bool {
	key := fmt.Sprintf("%s/%d", txHash, logIndex)
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[key]; ok {
		return true
	}
	c.seen[key] = struct{}{}
	return false
}

func (c *Contract) decode(lg types.Log, weightsSubmitted, taskCompleted common.Hash) (Event, bool) {
	if len(lg.Topics) == 0 {
		return Event{}, false
	}
	switch lg.Topics[0] {
	case weightsSubmitted:
		var unpacked struct {
			WeightsHash          [32]byte
			RewardAmount         *big.Int
			RemainingChunksAfter uint32
		}
		if err := c.abi.UnpackIntoInterface(&unpacked, "WeightsSubmitted", lg.Data); err != nil {
			logrus.Warnf("ledger: decode WeightsSubmitted: %v", err)
			return Event{}, false
		}
		taskID := new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		trainer := common.HexToAddress(lg.Topics[2].Hex())
		return Event{
			Kind:                 "WeightsSubmitted",
			TaskID:               taskID,
			Trainer:              trainer.Hex(),
			WeightsHash:          common.Hash(unpacked.WeightsHash).Hex(),
			RewardAmount:         unpacked.RewardAmount,
			RemainingChunksAfter: unpacked.RemainingChunksAfter,
			TxHash:               lg.TxHash.Hex(),
			LogIndex:             lg.Index,
		}, true
	case taskCompleted:
		taskID := new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		return Event{Kind: "TaskCompleted", TaskID: taskID, TxHash: lg.TxHash.Hex(), LogIndex: lg.Index}, true
	default:
		return Event{}, false
	}
}

// PublishLog republishes a human-observability entry on the consensus log
// topic via the node's overlay, after first emitting it to the local log.
// Publish failures are logged, never propagated: this entry is best-effort,
// never used for correctness.
func (c *Contract) PublishLog(ctx context.Context, message string) error {
	logrus.WithField("logTopic", c.logTopicID).Info(message)

	raw, err := wire.Encode(wire.TagLog, c.from.Hex(), 0, wire.LogPayload{Text: message})
	if err != nil {
		return fmt.Errorf("ledger: encode log entry: %w", err)
	}
	if err := c.publisher.Publish(c.logTopicID, raw); err != nil {
		logrus.Warnf("ledger: publish log entry on %s: %v", c.logTopicID, err)
	}
	return nil
}
