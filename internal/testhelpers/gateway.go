package testhelpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tyrowin/formsync/internal/form"
	"github.com/Tyrowin/formsync/internal/store"
)

// MemoryGateway is an in-memory persistence gateway for protocol tests.
type MemoryGateway struct {
	mu        sync.Mutex
	tokens    map[string]string
	fields    map[string]map[string]form.Field
	responses map[string]map[string]any
	merges    int

	// MergeErr, when set, is returned by every MergeResponse call.
	MergeErr error
}

// NewMemoryGateway returns an empty gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		tokens:    make(map[string]string),
		fields:    make(map[string]map[string]form.Field),
		responses: make(map[string]map[string]any),
	}
}

// AddForm registers a form reachable through shareToken.
func (g *MemoryGateway) AddForm(shareToken, formID string, fields ...form.Field) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[shareToken] = formID
	g.fields[formID] = make(map[string]form.Field, len(fields))
	for _, f := range fields {
		g.fields[formID][f.ID] = f
	}
	g.responses[formID] = make(map[string]any)
}

// SetField replaces a field's metadata.
func (g *MemoryGateway) SetField(formID string, f form.Field) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fields[formID][f.ID] = f
}

// Response returns a copy of the form's response document.
func (g *MemoryGateway) Response(formID string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]any, len(g.responses[formID]))
	for k, v := range g.responses[formID] {
		out[k] = v
	}
	return out
}

// MergeCount returns the number of successful MergeResponse calls.
func (g *MemoryGateway) MergeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.merges
}

// ResolveForm implements the gateway.
func (g *MemoryGateway) ResolveForm(_ context.Context, shareToken string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.tokens[shareToken]
	if !ok {
		return "", fmt.Errorf("form for share token: %w", store.ErrNotFound)
	}
	return id, nil
}

// GetField implements the gateway.
func (g *MemoryGateway) GetField(_ context.Context, formID, fieldID string) (form.Field, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.fields[formID][fieldID]
	if !ok {
		return form.Field{}, fmt.Errorf("field %s: %w", fieldID, store.ErrNotFound)
	}
	return f, nil
}

// MergeResponse implements the gateway.
func (g *MemoryGateway) MergeResponse(_ context.Context, formID, fieldID string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MergeErr != nil {
		return g.MergeErr
	}
	doc, ok := g.responses[formID]
	if !ok {
		return fmt.Errorf("response document for form %s: %w", formID, store.ErrNotFound)
	}
	doc[fieldID] = value
	g.merges++
	return nil
}

// RecordingConn captures delivered payloads.
type RecordingConn struct {
	mu       sync.Mutex
	payloads [][]byte
}

// Deliver records payload.
func (c *RecordingConn) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

// Messages returns the delivered payloads as strings.
func (c *RecordingConn) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	for i, p := range c.payloads {
		out[i] = string(p)
	}
	return out
}
