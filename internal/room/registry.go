package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
)

const (
	// codeAlphabet drops confusable characters (I, O, 0, 1).
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6

	defaultMaxPlayers = 10
)

type Config struct {
	// MaxPlayers caps the roster per room; 0 means the default.
	MaxPlayers int
}

// Registry holds every live room, keyed by its human-enterable code.
type Registry struct {
	mu         sync.RWMutex
	byCode     map[string]*Room
	maxPlayers int
}

func NewRegistry(c Config) *Registry {
	max := c.MaxPlayers
	if max == 0 {
		max = defaultMaxPlayers
	}

	return &Registry{
		byCode:     make(map[string]*Room),
		maxPlayers: max,
	}
}

// Create opens a new room with host as its first participant.
func (g *Registry) Create(name string, mode domain.Mode, host domain.Participant) (*Room, error) {
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room name must not be empty"))
	}
	if mode != domain.ModeKhoiDong && mode != domain.ModeTangToc {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown mode %q", mode))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate room ID: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	code, err := g.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}

	host.IsHost = true
	r := &Room{
		ID:           id.String(),
		Code:         code,
		Name:         name,
		Mode:         mode,
		status:       domain.RoomWaiting,
		hostID:       host.UserID,
		participants: []*domain.Participant{&host},
		maxPlayers:   g.maxPlayers,
	}

	g.byCode[code] = r
	return r, nil
}

// Get looks a room up by code.
func (g *Registry) Get(code string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.byCode[code]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room %s not found", code))
	}
	return r, nil
}

// Join attaches p to the room identified by code. The distinct failure
// modes (unknown code, already battling, room full) each carry their own
// error code for the client to surface.
func (g *Registry) Join(code string, p domain.Participant) (*Room, error) {
	r, err := g.Get(code)
	if err != nil {
		return nil, err
	}

	if err := r.Join(p); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes the room from the registry.
func (g *Registry) Delete(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byCode, code)
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byCode)
}

func (g *Registry) uniqueCodeLocked() (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, taken := g.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New(errors.CodeInternal, errors.WithMessagef("could not allocate a unique room code"))
}

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
