// Package signer holds the external signer capability smart accounts sign
// through, and a local ECDSA implementation of it.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/tyler-smith/go-bip39"
)

// Signer is the key management capability an account signs with. Errors from
// the backend (e.g. not authenticated) are returned as is.
type Signer interface {
	Address() common.Address

	// SignMessage produces an EIP-191 personal_sign signature over msg.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)

	// SignTypedData produces an EIP-712 signature.
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// UserOperationHashSigner is implemented by signers that sign user operation
// hashes in their own way instead of personal_sign over the raw hash.
type UserOperationHashSigner interface {
	SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error)
}

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func FromPrivateKeyHex(privateKeyHex string) (*LocalSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(privateKey), nil
}

// FromMnemonic derives the key at path (e.g. m/44'/60'/0'/0/0) from a BIP-39
// mnemonic. The word list checksum is not enforced.
func FromMnemonic(mnemonic, path string) (*LocalSigner, error) {
	if strings.TrimSpace(mnemonic) == "" {
		return nil, errors.New("empty mnemonic")
	}
	if path == "" {
		path = accounts.DefaultBaseDerivationPath.String()
	}
	derivationPath, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := deriveKey(seed, derivationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to derive %s: %w", path, err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	return SignMessage(s.key, msg)
}

func (s *LocalSigner) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, err
	}
	return signHash(s.key, hash)
}

// SignMessage generates an EIP-191 signature with v in {27, 28}.
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	return signHash(key, accounts.TextHash(data))
}

func SignMessageAsHex(key *ecdsa.PrivateKey, data []byte) (string, error) {
	signature, e := SignMessage(key, data)
	if e == nil {
		return hexutil.Encode(signature), nil
	}

	return "", e
}

func signHash(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverMessageSigner returns the address that produced an EIP-191 signature.
func RecoverMessageSigner(data, sig []byte) (common.Address, error) {
	return recoverAddress(accounts.TextHash(data), sig)
}

// RecoverTypedDataSigner returns the address that signed td.
func RecoverTypedDataSigner(td apitypes.TypedData, sig []byte) (common.Address, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAddress(hash, sig)
}

func recoverAddress(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes long", crypto.SignatureLength)
	}
	sig = common.CopyBytes(sig)
	if sig[crypto.RecoveryIDOffset] != 27 && sig[crypto.RecoveryIDOffset] != 28 {
		return common.Address{}, errors.New("invalid Ethereum signature (V is not 27 or 28)")
	}
	sig[crypto.RecoveryIDOffset] -= 27

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
