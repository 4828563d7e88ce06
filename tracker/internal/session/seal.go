package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var sealMagic = []byte("svs1")

const (
	saltLen  = 16
	nonceLen = 24
)

// Sealed encrypts the blob of an underlying Store with a key derived from a
// passphrase (scrypt + NaCl secretbox).
type Sealed struct {
	inner      Store
	passphrase []byte
}

// Seal wraps inner.
func Seal(inner Store, passphrase string) *Sealed {
	return &Sealed{inner: inner, passphrase: []byte(passphrase)}
}

func (s *Sealed) Load(ctx context.Context) ([]byte, error) {
	data, err := s.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

func (s *Sealed) Save(ctx context.Context, state []byte) error {
	sealed, err := s.seal(state)
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, sealed)
}

func (s *Sealed) Close() error { return s.inner.Close() }

func (s *Sealed) deriveKey(salt []byte) (*[32]byte, error) {
	k, err := scrypt.Key(s.passphrase, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], k)
	return &key, nil
}

func (s *Sealed) seal(plain []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("session: salt: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("session: nonce: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealMagic)+saltLen+nonceLen+len(plain)+secretbox.Overhead)
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, key), nil
}

func (s *Sealed) open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, sealMagic) {
		return nil, fmt.Errorf("not a sealed session")
	}
	data = data[len(sealMagic):]
	if len(data) < saltLen+nonceLen+secretbox.Overhead {
		return nil, fmt.Errorf("sealed session truncated")
	}
	salt := data[:saltLen]
	var nonce [nonceLen]byte
	copy(nonce[:], data[saltLen:saltLen+nonceLen])

	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	plain, ok := secretbox.Open(nil, data[saltLen+nonceLen:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("wrong passphrase or tampered session")
	}
	return plain, nil
}
