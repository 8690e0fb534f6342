package audit

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Event is one audit record: an authorization denial (or another
// security-relevant outcome) attributed to a caller and an entity operation.
type Event struct {
	Entity    string
	Operation string
	Role      string
	UserID    string
	Status    int
	SubStatus string
	Message   string
	Method    string
	Path      string
}

// Recorder accepts audit events. Record must be safe for concurrent use and
// must never block the request path.
type Recorder interface {
	Record(Event)
}

type ctxKey struct{}

// WithRecorder attaches a recorder to the context.
func WithRecorder(ctx context.Context, rec Recorder) context.Context {
	return context.WithValue(ctx, ctxKey{}, rec)
}

// FromContext returns the recorder attached to the context, or a Noop when
// auditing is not wired for this request.
func FromContext(ctx context.Context) Recorder {
	if rec, ok := ctx.Value(ctxKey{}).(Recorder); ok && rec != nil {
		return rec
	}
	return &Noop{}
}

// Middleware injects the recorder into every request's user context so
// handlers can emit events without holding a reference themselves.
func Middleware(rec Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(WithRecorder(c.UserContext(), rec))
		return c.Next()
	}
}
