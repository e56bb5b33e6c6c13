package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"otp-service/internal/config"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// SecretHasher produces and checks one-way digests of short secrets.
type SecretHasher interface {
	Hash(plain string) (string, error)
	Verify(digest, plain string) bool
}

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher is an argon2id SecretHasher. Digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>
//
// so parameters can change without invalidating outstanding codes.
type Hasher struct {
	params  Argon2Params
	pepper  string
	purpose string
}

func NewHasher(cfg config.OTPConfig) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      cfg.Argon2MemoryKB,
			Iterations:  cfg.Argon2Iterations,
			Parallelism: cfg.Argon2Parallelism,
			SaltLength:  16,
			KeyLength:   32,
		},
		pepper:  cfg.Pepper,
		purpose: "otp",
	}
}

func (h *Hasher) Params() Argon2Params {
	return h.params
}

// Hash returns the encoded digest of plain with a fresh random salt.
func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		h.material(plain),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches digest. Malformed digests never match.
func (h *Hasher) Verify(digest, plain string) bool {
	params, salt, expected, err := decodeDigest(digest)
	if err != nil {
		return false
	}

	computed := argon2.IDKey(
		h.material(plain),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// material binds the secret to the pepper and purpose so digests are not
// reusable across contexts.
func (h *Hasher) material(plain string) []byte {
	return []byte(plain + h.pepper + h.purpose)
}

func decodeDigest(digest string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return params, nil, nil, ErrIncompatibleVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return params, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, ErrInvalidHash
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}

// Benchmark reports the average cost of one Hash call with the current params.
func (h *Hasher) Benchmark(iterations int) time.Duration {
	if iterations <= 0 {
		return 0
	}
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := h.Hash(fmt.Sprintf("%06d", i)); err != nil {
			return 0
		}
	}
	return time.Since(start) / time.Duration(iterations)
}
