package chat

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/andy6609/termtalk/internal/protocol"
)

// Registry maps live sessions to their display names. Names held by
// registered sessions are pairwise distinct (exact, case-sensitive match).
type Registry struct {
	mu     sync.Mutex
	names  map[Token]string
	taken  map[string]Token
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		names:  make(map[Token]string),
		taken:  make(map[string]Token),
		logger: logger,
	}
}

// TryRegister claims name for token. The uniqueness check and the insert
// happen under one lock acquisition. Names that protocol.ValidName rejects
// yield ErrNameInvalid.
func (r *Registry) TryRegister(token Token, name string) error {
	name = strings.TrimSpace(name)
	if !protocol.ValidName(name) {
		return ErrNameInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.taken[name]; exists {
		return ErrNameTaken
	}
	if old, ok := r.names[token]; ok {
		// A token is named once; re-registering under a new name frees the old one.
		delete(r.taken, old)
	}
	r.names[token] = name
	r.taken[name] = token
	ConnectedClients.Set(float64(len(r.names)))

	r.logger.Info("user registered", "token", uint64(token), "username", name)
	return nil
}

// Unregister drops token's entry. Calling it for an unknown token is a no-op.
func (r *Registry) Unregister(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.names[token]
	if !ok {
		return
	}
	delete(r.names, token)
	delete(r.taken, name)
	ConnectedClients.Set(float64(len(r.names)))

	r.logger.Info("user left", "token", uint64(token), "username", name)
}

// Snapshot returns the registered names. Callers must not rely on the order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	names := lo.Values(r.names)
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Name returns the name registered for token, if any.
func (r *Registry) Name(token Token) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[token]
	return name, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
