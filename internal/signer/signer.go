package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  Domain
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(trim0x(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	publicKeyECDSA, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(*publicKeyECDSA),
		domain:  domain,
	}, nil
}

// GenerateKey returns a fresh private key in hex and its address.
func GenerateKey() (string, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", common.Address{}, err
	}
	return hexutil.Encode(crypto.FromECDSA(key))[2:], crypto.PubkeyToAddress(key.PublicKey), nil
}

func (s *Signer) Address() common.Address { return s.address }
func (s *Signer) Domain() Domain          { return s.domain }

// SignRequest signs the EIP-712 digest of r. The caller field is forced to
// the signer's own address.
func (s *Signer) SignRequest(r Request) (string, error) {
	r.Caller = s.address
	sig, err := crypto.Sign(Digest(s.domain, r).Bytes(), s.key)
	if err != nil {
		return "", err
	}
	// crypto.Sign 返回 V 为 0/1，这里转成 27/28
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
