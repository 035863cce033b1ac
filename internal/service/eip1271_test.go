package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWallet struct {
	calls  int
	fail   int
	accept bool
}

func (f *fakeWallet) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, errors.New("connection reset")
	}
	out := make([]byte, 32)
	if f.accept {
		copy(out, eip1271Magic[:])
	}
	return out, nil
}

func newFakeVerifier(w *fakeWallet, retries int) *EIP1271Verifier {
	return newEIP1271Verifier(EIP1271Config{Retries: retries, CacheTTL: time.Minute}, func(context.Context) (ContractCaller, error) {
		return w, nil
	})
}

func TestEIP1271VerifierCachesVerdicts(t *testing.T) {
	ctx := context.Background()
	wallet := common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	digest := common.HexToHash("0x01")

	w := &fakeWallet{accept: true}
	v := newFakeVerifier(w, 0)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	ok, err := v.Verify(ctx, wallet, digest, "0xabcd")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = v.Verify(ctx, wallet, digest, "0xabcd")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, w.calls, "second check is served from cache")

	now = now.Add(2 * time.Minute)
	_, err = v.Verify(ctx, wallet, digest, "0xabcd")
	require.NoError(t, err)
	assert.Equal(t, 2, w.calls, "expired verdict is refreshed")

	_, err = v.Verify(ctx, wallet, digest, "not-hex")
	assert.Error(t, err)
}

func TestEIP1271VerifierRetries(t *testing.T) {
	ctx := context.Background()
	wallet := common.HexToAddress("0x00000000000000000000000000000000000c0de2")

	w := &fakeWallet{fail: 1}
	ok, err := newFakeVerifier(w, 1).Verify(ctx, wallet, common.HexToHash("0x02"), "0x01")
	require.NoError(t, err)
	assert.False(t, ok, "wallet answered without the magic value")
	assert.Equal(t, 2, w.calls)

	w = &fakeWallet{fail: 5}
	_, err = newFakeVerifier(w, 0).Verify(ctx, wallet, common.HexToHash("0x03"), "0x01")
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 1, w.calls)
}
