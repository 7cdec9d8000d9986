package editor

import (
	"sync"

	"github.com/rebeliceyang/dataops/internal/models"
)

// Registry is the in-process editor host. Browser completion requests are
// dispatched through it to whichever provider is live for the language.
type Registry struct {
	mu        sync.RWMutex
	next      uint64
	providers map[string][]registration
}

type registration struct {
	id       uint64
	provider Provider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string][]registration),
	}
}

// RegisterCompletionProvider adds p for languageID and returns its handle
func (r *Registry) RegisterCompletionProvider(languageID string, p Provider) Disposable {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := r.next
	r.providers[languageID] = append(r.providers[languageID], registration{id: id, provider: p})

	return &handle{registry: r, languageID: languageID, id: id}
}

// Live returns the number of live registrations for languageID
func (r *Registry) Live(languageID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers[languageID])
}

// TriggerCharacters returns the trigger characters of every live provider
func (r *Registry) TriggerCharacters(languageID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, reg := range r.providers[languageID] {
		for _, ch := range reg.provider.TriggerCharacters() {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	return out
}

// Complete asks every live provider for suggestions and concatenates them
func (r *Registry) Complete(languageID string, model TextModel, pos Position) ([]models.CompletionItem, error) {
	r.mu.RLock()
	regs := make([]registration, len(r.providers[languageID]))
	copy(regs, r.providers[languageID])
	r.mu.RUnlock()

	if len(regs) == 0 {
		return nil, ErrNoProvider
	}

	items := make([]models.CompletionItem, 0)
	for _, reg := range regs {
		items = append(items, reg.provider.ProvideCompletionItems(model, pos)...)
	}
	return items, nil
}

func (r *Registry) remove(languageID string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.providers[languageID]
	for i, reg := range regs {
		if reg.id == id {
			r.providers[languageID] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(r.providers[languageID]) == 0 {
		delete(r.providers, languageID)
	}
}

type handle struct {
	registry   *Registry
	languageID string
	id         uint64
	once       sync.Once
}

// Dispose removes the registration; repeated calls are no-ops
func (h *handle) Dispose() {
	h.once.Do(func() {
		h.registry.remove(h.languageID, h.id)
	})
}
