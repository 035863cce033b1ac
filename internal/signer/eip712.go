package signer

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Constants for EIP-712
const (
	EIP712DomainName    = "Polyvault"
	EIP712DomainVersion = "1"
)

var (
	// EIP712DomainTypeHash is the keccak256 hash of the EIP712Domain type definition
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	// RequestTypeHash is the keccak256 hash of the VaultRequest type definition
	RequestTypeHash = crypto.Keccak256Hash([]byte("VaultRequest(address caller,string method,string path,uint256 timestamp,bytes32 bodyHash)"))

	ErrBadSignature = errors.New("invalid signature")
	ErrWrongSigner  = errors.New("signature does not match caller")
)

// Domain binds signatures to one chain and one vault.
type Domain struct {
	ChainID int64
	Vault   common.Address
}

// Separator is keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func (d Domain) Separator() common.Hash {
	// 所有字段都是 32 字节
	data := make([]byte, 32*5)
	copy(data[0:32], EIP712DomainTypeHash.Bytes())
	copy(data[32:64], crypto.Keccak256([]byte(EIP712DomainName)))
	copy(data[64:96], crypto.Keccak256([]byte(EIP712DomainVersion)))
	copy(data[96:128], math.U256Bytes(big.NewInt(d.ChainID)))
	copy(data[128+12:160], d.Vault.Bytes())
	return crypto.Keccak256Hash(data)
}

// Request is the signed envelope of one HTTP call.
type Request struct {
	Caller    common.Address
	Method    string
	Path      string
	Timestamp int64
	BodyHash  common.Hash
}

// NewRequest hashes body and normalizes the method.
func NewRequest(caller common.Address, method, path string, timestamp int64, body []byte) Request {
	return Request{
		Caller:    caller,
		Method:    strings.ToUpper(method),
		Path:      path,
		Timestamp: timestamp,
		BodyHash:  crypto.Keccak256Hash(body),
	}
}

// hashStruct is keccak256(abi.encode(typeHash, caller, keccak(method), keccak(path), timestamp, bodyHash)).
func (r Request) hashStruct() []byte {
	data := make([]byte, 32*6)
	copy(data[0:32], RequestTypeHash.Bytes())
	copy(data[32+12:64], r.Caller.Bytes())
	copy(data[64:96], crypto.Keccak256([]byte(r.Method)))
	copy(data[96:128], crypto.Keccak256([]byte(r.Path)))
	copy(data[128:160], math.U256Bytes(big.NewInt(r.Timestamp)))
	copy(data[160:192], r.BodyHash.Bytes())
	return crypto.Keccak256(data)
}

// Digest is keccak256("\x19\x01" || domainSeparator || hashStruct(request)).
func Digest(d Domain, r Request) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, d.Separator().Bytes(), r.hashStruct())
}

// RecoverRequest returns the address that produced sigHex over the request
// digest. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverRequest(d Domain, r Request, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("decode: %w", ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(Digest(d, r).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: %v: %w", err, ErrBadSignature)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that the request was signed by its declared caller.
func VerifyRequest(d Domain, r Request, sigHex string) error {
	got, err := RecoverRequest(d, r, sigHex)
	if err != nil {
		return err
	}
	if got != r.Caller {
		return fmt.Errorf("recovered %s, caller %s: %w", got.Hex(), r.Caller.Hex(), ErrWrongSigner)
	}
	return nil
}
