package signer

import (
	"crypto/ecdsa"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// 系统内预定义的签名角色。
const (
	RoleOrchestrator = "orchestrator"
	RoleStrategy     = "strategy_agent"
	RoleRisk         = "risk_agent"
	RoleForecast     = "forecast_agent"
	RoleValidation   = "validation_agent"
)

// Registry 维护角色到密钥材料的映射，并推导每个角色的公开地址。
// 私钥只在签名时使用，绝不写入日志或持久化。
type Registry struct {
	keys      map[string]*ecdsa.PrivateKey
	addresses map[string]common.Address
}

// NewRegistry 根据角色到十六进制私钥的映射构建注册表。
// 值为空的角色被跳过，对应角色后续签名会得到 SIGNING_FAILURE。
func NewRegistry(hexKeys map[string]string) (*Registry, error) {
	r := &Registry{
		keys:      make(map[string]*ecdsa.PrivateKey),
		addresses: make(map[string]common.Address),
	}
	for role, hexKey := range hexKeys {
		hexKey = strings.TrimSpace(strings.TrimPrefix(hexKey, "0x"))
		if hexKey == "" {
			continue
		}
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("角色 %s 的私钥无效", role))
		}
		r.keys[role] = key
		r.addresses[role] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return r, nil
}

// AddressOf 返回角色的公开地址。
func (r *Registry) AddressOf(role string) (common.Address, bool) {
	addr, ok := r.addresses[role]
	return addr, ok
}

// Roles 返回已配置密钥的角色列表，顺序稳定。
func (r *Registry) Roles() []string {
	roles := make([]string, 0, len(r.keys))
	for role := range r.keys {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Signer 负责对意图文本进行签名与验签。
type Signer struct {
	registry *Registry
}

// NewSigner 构造 Signer。
func NewSigner(registry *Registry) *Signer {
	return &Signer{registry: registry}
}

// Sign 以指定角色对意图文本签名，返回可附加到共享状态上的 SignedIntent。
// 签名采用以太坊 personal-message 前缀哈希，与链上验签工具兼容。
func (s *Signer) Sign(role, intentText string) (*state.SignedIntent, error) {
	key, ok := s.registry.keys[role]
	if !ok {
		return nil, xerrors.New(xerrors.CodeSigningFailure, fmt.Sprintf("角色 %s 未配置签名密钥", role))
	}

	hash := accounts.TextHash([]byte(intentText))
	signature, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailure, err, fmt.Sprintf("角色 %s 签名失败", role))
	}

	return &state.SignedIntent{
		Role:          role,
		IntentText:    intentText,
		Signature:     hexutil.Encode(signature),
		SignerAddress: s.registry.addresses[role].Hex(),
	}, nil
}

// Verify 校验签名与意图文本的绑定关系。
// 当且仅当恢复出的地址既等于注册表中该角色的地址、又等于 intent
// 自带的 signer_address 时返回 true。文本被改动任何一个字节都会失败。
func (s *Signer) Verify(intent *state.SignedIntent) bool {
	if intent == nil || intent.Signature == "" || intent.IntentText == "" {
		return false
	}
	expected, ok := s.registry.AddressOf(intent.Role)
	if !ok {
		return false
	}

	signature, err := hexutil.Decode(intent.Signature)
	if err != nil || len(signature) != crypto.SignatureLength {
		return false
	}
	// 兼容 V 取 27/28 的外部签名工具。
	if signature[crypto.RecoveryIDOffset] >= 27 {
		signature = append([]byte(nil), signature...)
		signature[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(intent.IntentText))
	pubKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != expected {
		return false
	}
	return strings.EqualFold(recovered.Hex(), intent.SignerAddress)
}
