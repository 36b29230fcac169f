package ledger

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the wallet key used to authenticate broker requests.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewSigner parses a hex private key, with or without a 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("ledger: private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}, nil
}

// Address is the checksummed wallet address.
func (s *Signer) Address() string { return s.address }

// Sign returns the hex secp256k1 signature over keccak256(msg).
func (s *Signer) Sign(msg []byte) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(msg), s.key)
	if err != nil {
		return "", fmt.Errorf("ledger: sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the address that produced sig over msg.
func RecoverAddress(msg []byte, sig string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return "", fmt.Errorf("ledger: decode signature: %w", err)
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(msg), raw)
	if err != nil {
		return "", fmt.Errorf("ledger: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
