package game

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

func RandomCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for range codeLength {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// MemoryCodeReserver keeps reserved codes in process memory. It is enough
// for a single instance.
type MemoryCodeReserver struct {
	codes  map[string]struct{}
	locker sync.Mutex
}

func NewMemoryCodeReserver() *MemoryCodeReserver {
	return &MemoryCodeReserver{codes: map[string]struct{}{}}
}

func (m *MemoryCodeReserver) Reserve(_ context.Context, code string) (bool, error) {
	m.locker.Lock()
	defer m.locker.Unlock()
	if _, taken := m.codes[code]; taken {
		return false, nil
	}
	m.codes[code] = struct{}{}
	return true, nil
}

func (m *MemoryCodeReserver) Release(_ context.Context, code string) error {
	m.locker.Lock()
	delete(m.codes, code)
	m.locker.Unlock()
	return nil
}

type codeGenerator struct {
	reserver  CodeReserver
	candidate func() string
}

// generate reserves a fresh code, giving up after maxCodeAttempts
// collisions.
func (g *codeGenerator) generate(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code := g.candidate()
		ok, err := g.reserver.Reserve(ctx, code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrCodesExhausted
}
