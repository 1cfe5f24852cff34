// Package backend is the system of record the domain tools act on.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown references.
var ErrNotFound = errors.New("backend: reference not found")

// Status is the tracked state of a process reference.
type Status struct {
	Ref       string    `json:"ref"`
	Category  string    `json:"category"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link attaches a document to a reference.
type Link struct {
	Ref      string    `json:"ref"`
	Document string    `json:"document"`
	LinkedAt time.Time `json:"linked_at"`
}

// DeclarationRequest asks for a new declaration on a reference.
type DeclarationRequest struct {
	Ref  string `json:"ref"`
	Kind string `json:"kind"`
}

type Declaration struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRequest is an outbound message.
type MessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
	Ref  string `json:"ref,omitempty"`
}

type Message struct {
	ID     string    `json:"id"`
	To     string    `json:"to"`
	Body   string    `json:"body"`
	Ref    string    `json:"ref,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Backend is implemented by real integrations and by MemoryBackend.
type Backend interface {
	Status(ctx context.Context, ref string) (*Status, error)
	LinkDocument(ctx context.Context, ref, document string) (*Link, error)
	CreateDeclaration(ctx context.Context, req DeclarationRequest) (*Declaration, error)
	SendMessage(ctx context.Context, req MessageRequest) (*Message, error)
}

// NormalizeRef uppercases and trims a reference.
func NormalizeRef(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

// MemoryBackend keeps everything in process.
type MemoryBackend struct {
	mu           sync.Mutex
	now          func() time.Time
	statuses     map[string]Status
	links        map[string][]Link
	declarations []Declaration
	messages     []Message
}

func NewMemoryBackend(seed ...Status) *MemoryBackend {
	b := &MemoryBackend{
		now:      time.Now,
		statuses: map[string]Status{},
		links:    map[string][]Link{},
	}
	for _, s := range seed {
		s.Ref = NormalizeRef(s.Ref)
		b.statuses[s.Ref] = s
	}
	return b
}

// DemoStatuses is the seed data the CLI starts with.
func DemoStatuses(now time.Time) []Status {
	return []Status{
		{Ref: "REF-001", Category: "importacao", State: "em análise fiscal", Detail: "aguardando conferência documental", UpdatedAt: now.Add(-2 * time.Hour)},
		{Ref: "REF-002", Category: "importacao", State: "desembaraçado", UpdatedAt: now.Add(-26 * time.Hour)},
		{Ref: "EXP-100", Category: "exportacao", State: "aguardando embarque", UpdatedAt: now.Add(-30 * time.Minute)},
	}
}

func (b *MemoryBackend) lookup(ref string) (Status, error) {
	s, ok := b.statuses[NormalizeRef(ref)]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, NormalizeRef(ref))
	}
	return s, nil
}

func (b *MemoryBackend) Status(ctx context.Context, ref string) (*Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.lookup(ref)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *MemoryBackend) LinkDocument(ctx context.Context, ref, document string) (*Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.lookup(ref)
	if err != nil {
		return nil, err
	}
	link := Link{Ref: s.Ref, Document: strings.TrimSpace(document), LinkedAt: b.now()}
	b.links[s.Ref] = append(b.links[s.Ref], link)
	return &link, nil
}

func (b *MemoryBackend) CreateDeclaration(ctx context.Context, req DeclarationRequest) (*Declaration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.lookup(req.Ref)
	if err != nil {
		return nil, err
	}
	decl := Declaration{
		ID:        fmt.Sprintf("DECL-%04d", len(b.declarations)+1),
		Ref:       s.Ref,
		Kind:      strings.ToUpper(req.Kind),
		CreatedAt: b.now(),
	}
	b.declarations = append(b.declarations, decl)
	return &decl, nil
}

func (b *MemoryBackend) SendMessage(ctx context.Context, req MessageRequest) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := Message{
		ID:     uuid.NewString(),
		To:     strings.TrimSpace(req.To),
		Body:   req.Body,
		Ref:    NormalizeRef(req.Ref),
		SentAt: b.now(),
	}
	b.messages = append(b.messages, msg)
	return &msg, nil
}

// Declarations returns what was created, oldest first.
func (b *MemoryBackend) Declarations() []Declaration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Declaration(nil), b.declarations...)
}

func (b *MemoryBackend) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Links returns the documents linked to ref.
func (b *MemoryBackend) Links(ref string) []Link {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Link(nil), b.links[NormalizeRef(ref)]...)
}

// Refs lists known references in order.
func (b *MemoryBackend) Refs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	refs := make([]string, 0, len(b.statuses))
	for ref := range b.statuses {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
