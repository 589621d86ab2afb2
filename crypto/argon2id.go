package crypto

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/armando-rios/pinturillo/domain"
)

const (
	roomSaltLength  = 16
	roomKeyLength   = 32
	maxHashMemoryKB = 256 * 1024
)

// PasswordParams tune the argon2id cost of room passwords. Memory is in KiB.
type PasswordParams struct {
	Iterations  uint32 `mapstructure:"iterations"`
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

// RoomPasswordParams is one pass over 19 MiB on a single lane. Room
// passwords are short-lived shared secrets checked on every join, so the
// cost stays at the low end of what argon2id recommends.
func RoomPasswordParams() PasswordParams {
	return PasswordParams{Iterations: 1, MemoryKiB: 19 * 1024, Parallelism: 1}
}

func (p PasswordParams) Validate() error {
	switch {
	case p.Iterations == 0:
		return errors.New("argon2id iterations must be at least 1")
	case p.Parallelism == 0:
		return errors.New("argon2id parallelism must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return fmt.Errorf("argon2id memory must be at least %d KiB for %d lanes", 8*uint32(p.Parallelism), p.Parallelism)
	case p.MemoryKiB > maxHashMemoryKB:
		return fmt.Errorf("argon2id memory cannot exceed %d KiB", maxHashMemoryKB)
	}
	return nil
}

// Argon2idHasher hashes room passwords. Hashing blocks for a while, so the
// registry runs it before entering a room actor.
type Argon2idHasher struct {
	params *argon2id.Params
}

func NewArgon2idHasher(p PasswordParams) (*Argon2idHasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{
		params: &argon2id.Params{
			Memory:      p.MemoryKiB,
			Iterations:  p.Iterations,
			Parallelism: p.Parallelism,
			SaltLength:  roomSaltLength,
			KeyLength:   roomKeyLength,
		},
	}, nil
}

func (h *Argon2idHasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, h.params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.UnexpectedPasswordHashError, err)
	}
	return hash, nil
}

// Compare checks a join attempt against the stored hash. Hashes made with
// older params still verify, since argon2id encodes them in the hash.
func (h *Argon2idHasher) Compare(hash, password string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.UnexpectedPasswordHashError, err)
	}
	return match, nil
}
