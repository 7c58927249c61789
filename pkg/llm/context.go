package llm

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	conversationIDKey contextKey = "llm_conversation_id"

	// requestIDHeader carries the conversation ID so provider-side logs can
	// be matched with ours.
	requestIDHeader = "X-Request-Id"
)

// WithConversationID attaches a conversation ID to ctx.
func WithConversationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationID returns the conversation ID in ctx, if any.
func ConversationID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(conversationIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// contextAwareTransport copies the conversation ID from the request context
// into the X-Request-Id header.
type contextAwareTransport struct {
	base http.RoundTripper
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id, ok := ConversationID(req.Context())
	if !ok {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(requestIDHeader, id.String())
	return t.base.RoundTrip(clone)
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &contextAwareTransport{base: http.DefaultTransport}}
}
