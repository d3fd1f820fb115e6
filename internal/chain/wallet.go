package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet wraps the oracle's ECDSA private key used to sign cycle creation
// and result submission transactions.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWallet creates a wallet from a hex-encoded private key.
func NewWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)

	return &Wallet{
		privateKey: key,
		address:    addr,
	}, nil
}

// Address returns the wallet's address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// PrivateKey returns the underlying ECDSA private key.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey {
	return w.privateKey
}
