package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature does not recover to the
// claimed address.
var ErrBadSignature = errors.New("crypto: signature does not match address")

// Signer signs EIP-191 personal messages with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex private key, with or without 0x.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage returns the 65-byte r||s||v signature with v in {27, 28}.
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(message), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignMessageHex is SignMessage with 0x-hex output.
func (s *Signer) SignMessageHex(message []byte) (string, error) {
	sig, err := s.SignMessage(message)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the address that produced sig over message. v may be
// 0/1 or 27/28.
func RecoverAddress(message []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature is %d bytes", ErrBadSignature, len(sig))
	}
	norm := bytes.Clone(sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyMessage checks that sigHex over message was made by want.
func VerifyMessage(message []byte, sigHex string, want common.Address) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	got, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: recovered %s", ErrBadSignature, got.Hex())
	}
	return nil
}

// RequestMessage is the text signed for an authenticated HTTP request:
//
//	timestamp "\n" METHOD "\n" path "\n" body
func RequestMessage(timestamp int64, method, path string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.Write(body)
	return b.Bytes()
}
