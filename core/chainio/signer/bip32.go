package signer

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var errInvalidChildKey = errors.New("invalid child key, try the next index")

// deriveKey walks a BIP-32 private key derivation from seed along path.
func deriveKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	n := crypto.S256().Params().N

	I := hmacSHA512([]byte("Bitcoin seed"), seed)
	k := new(big.Int).SetBytes(I[:32])
	chainCode := I[32:]
	if k.Sign() == 0 || k.Cmp(n) >= 0 {
		return nil, errors.New("invalid master key")
	}

	for _, index := range path {
		var data []byte
		if index >= 0x80000000 {
			data = append([]byte{0}, common.LeftPadBytes(k.Bytes(), 32)...)
		} else {
			parent, err := crypto.ToECDSA(common.LeftPadBytes(k.Bytes(), 32))
			if err != nil {
				return nil, err
			}
			data = crypto.CompressPubkey(&parent.PublicKey)
		}
		data = binary.BigEndian.AppendUint32(data, index)

		I = hmacSHA512(chainCode, data)
		il := new(big.Int).SetBytes(I[:32])
		if il.Cmp(n) >= 0 {
			return nil, errInvalidChildKey
		}
		k = il.Add(il, k).Mod(il, n)
		if k.Sign() == 0 {
			return nil, errInvalidChildKey
		}
		chainCode = I[32:]
	}

	return crypto.ToECDSA(common.LeftPadBytes(k.Bytes(), 32))
}

func hmacSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
