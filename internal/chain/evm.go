package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	"github.com/ssuyashhhh/H2K/internal/catalog"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// 测试网安全上限：单笔转出的 ETH 价值不超过该值。
const maxTestnetValueETH = 0.01

// 粗略的 USDC/ETH 折算比，仅用于测试网演示转账。
const usdcPerETH = 2000.0

// EVMSubmitter 通过以太坊兼容节点真实提交交易。
type EVMSubmitter struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewEVMSubmitter 连接 RPC 节点并加载执行私钥。
func NewEVMSubmitter(ctx context.Context, rpcURL, hexKey string) (*EVMSubmitter, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	hexKey = strings.TrimSpace(strings.TrimPrefix(hexKey, "0x"))
	if hexKey == "" {
		return nil, errors.New("未配置交易执行私钥")
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析执行私钥失败: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	return &EVMSubmitter{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Close 释放节点连接。
func (s *EVMSubmitter) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

// Submit 向目标地址发送一笔签名后的价值转移交易并等待上链。
func (s *EVMSubmitter) Submit(ctx context.Context, to common.Address, value *big.Int, gasLimit uint64) (*coretypes.Receipt, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 gas price 失败: %w", err)
	}

	tx := coretypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, nil)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, s.client, signed)
	if err != nil {
		return nil, fmt.Errorf("等待交易上链失败: %w", err)
	}
	return receipt, nil
}

// NewEVMRegistry 为目录中配置了合约地址的每个协议注册交易处理器，
// 兜底处理器执行自转账。这是按表派发，不是按协议写分支。
func NewEVMRegistry(submitter *EVMSubmitter, c *catalog.Catalog) *Registry {
	fallback := newTransferHandler(submitter, submitter.from, 21000)
	registry := NewRegistry(fallback)
	for _, name := range c.Names() {
		contract := c.ContractOf(name)
		if contract == "" {
			continue
		}
		registry.Register(name, newTransferHandler(submitter, common.HexToAddress(contract), 300000))
	}
	return registry
}

func newTransferHandler(submitter *EVMSubmitter, to common.Address, gasLimit uint64) Handler {
	return HandlerFunc(func(ctx context.Context, req TradeRequest) (state.TransactionReceipt, error) {
		value := weiValue(req.Amount, req.Token)
		receipt, submitErr := submitter.Submit(ctx, to, value, gasLimit)
		if submitErr != nil {
			failed := state.TransactionReceipt{
				Status:   state.ReceiptStatusFailed,
				Protocol: req.Protocol,
				TxAction: req.Action,
				Amount:   req.Amount,
				Token:    req.Token,
				Error:    submitErr.Error(),
			}
			return failed, submitErr
		}
		return state.TransactionReceipt{
			Status:   state.ReceiptStatusSuccess,
			Hash:     receipt.TxHash.Hex(),
			Block:    receipt.BlockNumber.Uint64(),
			Protocol: req.Protocol,
			TxAction: req.Action,
			Amount:   req.Amount,
			Token:    req.Token,
		}, nil
	})
}

// weiValue 将提案金额折算为受上限保护的 wei 数额。
func weiValue(amount float64, token string) *big.Int {
	eth := amount
	if !strings.EqualFold(token, "ETH") {
		eth = amount / usdcPerETH
	}
	if eth > maxTestnetValueETH {
		eth = maxTestnetValueETH
	}
	if eth < 0 {
		eth = 0
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(eth), big.NewFloat(params.Ether)).Int(nil)
	return wei
}
