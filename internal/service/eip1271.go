package service

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// isValidSignature(bytes32,bytes) 通过时返回的 magic value
var eip1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

var isValidSignatureABI = func() abi.ABI {
	const def = `[{"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"","type":"bytes4"}],"stateMutability":"view","type":"function"}]`
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// ContractCaller is the eth_call surface the verifier needs; *ethclient.Client
// satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

type EIP1271Config struct {
	RPCURL   string
	CacheTTL time.Duration
	Timeout  time.Duration
	Retries  int
}

type verdict struct {
	ok      bool
	expires time.Time
}

// EIP1271Verifier 校验合约钱包签名：对请求摘要调用钱包合约的
// isValidSignature，结果按 (合约, 摘要, 签名) 缓存。
type EIP1271Verifier struct {
	cfg  EIP1271Config
	dial func(ctx context.Context) (ContractCaller, error)
	now  func() time.Time

	mu       sync.Mutex
	caller   ContractCaller
	verdicts map[common.Hash]verdict
}

func NewEIP1271Verifier(cfg EIP1271Config) *EIP1271Verifier {
	url := strings.TrimSpace(cfg.RPCURL)
	return newEIP1271Verifier(cfg, func(ctx context.Context) (ContractCaller, error) {
		if url == "" {
			return nil, fmt.Errorf("chain.rpc_url is not configured")
		}
		return ethclient.DialContext(ctx, url)
	})
}

func newEIP1271Verifier(cfg EIP1271Config, dial func(ctx context.Context) (ContractCaller, error)) *EIP1271Verifier {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &EIP1271Verifier{
		cfg:      cfg,
		dial:     dial,
		now:      time.Now,
		verdicts: make(map[common.Hash]verdict),
	}
}

// Verify reports whether wallet accepts signature over digest. Only
// transport failures are errors; a rejection is (false, nil).
func (v *EIP1271Verifier) Verify(ctx context.Context, wallet common.Address, digest common.Hash, signature string) (bool, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	key := crypto.Keccak256Hash(wallet.Bytes(), digest.Bytes(), sig)
	if ok, hit := v.lookup(key); hit {
		return ok, nil
	}

	input, err := isValidSignatureABI.Pack("isValidSignature", [32]byte(digest), sig)
	if err != nil {
		return false, fmt.Errorf("pack isValidSignature: %w", err)
	}
	msg := ethereum.CallMsg{To: &wallet, Data: input}

	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := v.call(ctx, msg)
		if err == nil {
			ok := len(out) >= 4 && bytes.Equal(out[:4], eip1271Magic[:])
			v.remember(key, ok)
			return ok, nil
		}
		lastErr = err
		if attempt >= v.cfg.Retries || !backoff(ctx, attempt) {
			break
		}
	}
	return false, fmt.Errorf("isValidSignature on %s: %w", wallet.Hex(), lastErr)
}

func (v *EIP1271Verifier) call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()
	c, err := v.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.CallContract(ctx, msg, nil)
}

func (v *EIP1271Verifier) client(ctx context.Context) (ContractCaller, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.caller == nil {
		c, err := v.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		v.caller = c
	}
	return v.caller, nil
}

func (v *EIP1271Verifier) lookup(key common.Hash) (ok, hit bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, found := v.verdicts[key]
	if !found {
		return false, false
	}
	if v.now().After(e.expires) {
		delete(v.verdicts, key)
		return false, false
	}
	return e.ok, true
}

func (v *EIP1271Verifier) remember(key common.Hash, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verdicts[key] = verdict{ok: ok, expires: v.now().Add(v.cfg.CacheTTL)}
}

// backoff waits 200ms, 400ms, ... and reports false once ctx is done.
func backoff(ctx context.Context, attempt int) bool {
	t := time.NewTimer(time.Duration(attempt+1) * 200 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
