// Package anonymizer turns a voter's choice into a ballot that cannot be
// linked back to the voter. A pseudonym replaces the voter identity, the
// candidate is sealed with AES-GCM and a verification tag is handed back as the
// receipt.
package anonymizer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	strconv2 "github.com/savsgio/gotils/strconv"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the length of the per-cast random salt.
	SaltSize = 32
	keySize  = 32
	hkdfInfo = "ballotd ballot choice v1"
)

var (
	ErrEmptySecret   = errors.New("anonymizer: encryption secret is empty")
	ErrMalformed     = errors.New("anonymizer: malformed ciphertext")
	ErrUndecryptable = errors.New("anonymizer: ciphertext failed authentication")
)

type Engine struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives the ballot key from secret. Secrets of any length are
// stretched with HKDF-SHA256.
func New(secret string) (*Engine, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, strconv2.S2B(secret), nil, strconv2.S2B(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "anonymizer: derive key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Engine{aead: aead, rand: rand.Reader}, nil
}

// NewSalt returns fresh random bytes for one pseudonym derivation. The salt is
// discarded after use.
func (e *Engine) NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(e.rand, salt); err != nil {
		return nil, errors.Wrap(err, "anonymizer: salt")
	}
	return salt, nil
}

// DerivePseudonym is hex(sha256(voter || election || salt)).
func DerivePseudonym(voterId, electionId uuid.UUID, salt []byte) string {
	h := sha256.New()
	h.Write(strconv2.S2B(voterId.String()))
	h.Write(strconv2.S2B(electionId.String()))
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

// EncryptChoice seals the candidate id as hex(nonce):hex(ciphertext).
func (e *Engine) EncryptChoice(candidateId uuid.UUID) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return "", errors.Wrap(err, "anonymizer: nonce")
	}
	sealed := e.aead.Seal(nil, nonce, strconv2.S2B(candidateId.String()), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

func (e *Engine) DecryptChoice(choice string) (uuid.UUID, error) {
	nonceHex, sealedHex, found := strings.Cut(choice, ":")
	if !found {
		return uuid.Nil, ErrMalformed
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != e.aead.NonceSize() {
		return uuid.Nil, ErrMalformed
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return uuid.Nil, ErrMalformed
	}
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return uuid.Nil, ErrUndecryptable
	}
	id, err := uuid.ParseBytes(plain)
	if err != nil {
		return uuid.Nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return id, nil
}

// ComputeVerificationTag is hex(sha256(pseudonym || choice || unix millis)).
func ComputeVerificationTag(pseudonym, choice string, ts time.Time) string {
	h := sha256.New()
	h.Write(strconv2.S2B(pseudonym))
	h.Write(strconv2.S2B(choice))
	h.Write(strconv2.S2B(strconv.FormatInt(ts.UnixMilli(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Sealed is everything the ballot stores about one cast.
type Sealed struct {
	Pseudonym       string
	Choice          string
	VerificationTag string
}

// Seal runs the whole pipeline for one cast at ts.
func (e *Engine) Seal(voterId, electionId, candidateId uuid.UUID, ts time.Time) (*Sealed, error) {
	salt, err := e.NewSalt()
	if err != nil {
		return nil, err
	}
	pseudonym := DerivePseudonym(voterId, electionId, salt)
	choice, err := e.EncryptChoice(candidateId)
	if err != nil {
		return nil, err
	}
	return &Sealed{
		Pseudonym:       pseudonym,
		Choice:          choice,
		VerificationTag: ComputeVerificationTag(pseudonym, choice, ts),
	}, nil
}
