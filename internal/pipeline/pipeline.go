// Package pipeline connects listeners to the generation worker through
// two FIFO hand-off queues.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/scrivener/internal/delivery"
	"github.com/user/scrivener/internal/registry"
	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/pkg/llm"
)

const queueCapacity = 256

// failureReply is appended to a session when generation fails, so the user
// is not left waiting on a silent error.
const failureReply = "Sorry, something went wrong generating a reply. Please try again."

// outboundReply pairs a finished reply with its session. The text is
// snapshotted when generation completes so a follow-up round-trip cannot
// overtake it before delivery.
type outboundReply struct {
	sess *session.Session
	text string
}

// Pipeline owns the inbound and outbound queues, the single generation
// worker that serializes all model access, and the responder that routes
// finished replies back to their platform. Inbound items are session
// references, not copies; the queues own scheduling order only.
type Pipeline struct {
	registry *registry.Registry
	presets  map[string]map[string]any
	deliver  *delivery.Registry

	inbound  chan *session.Session
	outbound chan outboundReply

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pipeline. presets maps decoding-mode names to parameter
// overrides, used to seed a session's config on first use of a model.
func New(reg *registry.Registry, presets map[string]map[string]any, deliver *delivery.Registry) *Pipeline {
	return &Pipeline{
		registry: reg,
		presets:  presets,
		deliver:  deliver,
		inbound:  make(chan *session.Session, queueCapacity),
		outbound: make(chan outboundReply, queueCapacity),
	}
}

// Start launches the worker and responder goroutines.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.worker()
	go p.responder()
}

// Stop cancels the pipeline context and waits for both goroutines.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue submits a session for generation. At most one request per
// session is in flight at a time; a message arriving mid-generation queues
// behind the current request and gets its own round-trip afterwards.
func (p *Pipeline) Enqueue(sess *session.Session) error {
	if !sess.BeginRequest() {
		slog.Debug("request queued behind in-flight generation", "session", sess.Key())
		return nil
	}
	return p.push(sess)
}

func (p *Pipeline) push(sess *session.Session) error {
	sess.MarkEnqueued(uuid.New().String(), time.Now())
	select {
	case p.inbound <- sess:
		return nil
	default:
		sess.FinishRequest()
		return fmt.Errorf("generation queue full")
	}
}

// worker drains the inbound queue one session at a time. All generation
// across all users and model types is serialized here to avoid contention
// on a shared accelerator; the cost is head-of-line blocking.
func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case sess := <-p.inbound:
			p.process(sess)

			// A message that arrived during generation gets its own
			// round-trip; the session stays in flight until drained.
			if sess.FinishRequest() {
				if err := p.push(sess); err != nil {
					slog.Error("re-enqueue failed", "session", sess.Key(), "error", err)
				}
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// process runs one generation request. Failures are logged and turned
// into a user-visible reply; they never kill the worker.
func (p *Pipeline) process(sess *session.Session) {
	requestID, enqueuedAt := sess.RequestInfo()
	logger := slog.With("request_id", requestID, "session", sess.Key(), "model", sess.ModelType())
	logger.Debug("dequeued", "wait", time.Since(enqueuedAt))

	reply, tokens, err := p.generate(sess)
	if err != nil {
		logger.Error("generation failed", "error", err)
		reply = failureReply
	}

	sess.Append(llm.RoleAssistant, reply)
	if err == nil {
		logger.Info("reply generated",
			"tokens", tokens,
			"elapsed", time.Since(enqueuedAt),
		)
	}

	select {
	case p.outbound <- outboundReply{sess: sess, text: reply}:
	case <-p.ctx.Done():
	}
}

func (p *Pipeline) generate(sess *session.Session) (string, int, error) {
	entry, err := p.registry.Ensure(p.ctx, sess.ModelType())
	if err != nil {
		return "", 0, fmt.Errorf("ensure model: %w", err)
	}

	cfg, err := sess.EnsureConfig(entry.Defaults, p.presets[sess.DecodingMode()])
	if err != nil {
		return "", 0, fmt.Errorf("ensure generation config: %w", err)
	}

	result, err := entry.Backend.Generate(p.ctx, sess.Window(), cfg)
	if err != nil {
		return "", 0, fmt.Errorf("generate: %w", err)
	}
	return result.Text, result.TokenCount, nil
}

// responder drains the outbound queue strictly FIFO, delivering each
// snapshotted reply to the session's remembered target.
func (p *Pipeline) responder() {
	defer p.wg.Done()
	for {
		select {
		case out := <-p.outbound:
			sess := out.sess
			if err := p.deliver.Deliver(string(sess.Key()), sess.ReplyTarget(), out.text); err != nil {
				slog.Error("delivery failed", "session", sess.Key(), "error", err)
			}
		case <-p.ctx.Done():
			return
		}
	}
}
