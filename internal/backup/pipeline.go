package backup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/models"
	"github.com/starford/cardsync/internal/vcard"
)

// DefaultRetryDelay separates a failed push from its retry.
const DefaultRetryDelay = time.Second

// Outcome is the terminal result of one cycle.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeDisabled  Outcome = "disabled"
	OutcomePushed    Outcome = "pushed"
	OutcomeRequeued  Outcome = "requeued"
	OutcomeDropped   Outcome = "dropped"
	OutcomeAbandoned Outcome = "abandoned"
)

// Event describes a cycle that handled a contact.
type Event struct {
	Outcome   Outcome
	ContactID string
	CycleID   string
	Status    int
	Err       error
}

// ContactLoader reads contact records by id.
type ContactLoader interface {
	Load(id string) (*models.Contact, error)
}

// CredentialResolver returns the push credentials of the signed-in account.
type CredentialResolver interface {
	Resolve(ctx context.Context) (credstore.Profile, error)
}

// Scheduler runs f after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Pipeline drives queued contacts to the provider. Cycles run one at a
// time on the goroutine calling Run.
type Pipeline struct {
	queue      *Queue
	contacts   ContactLoader
	encoder    *vcard.Encoder
	resolver   CredentialResolver
	client     *carddav.Client
	scheduler  Scheduler
	retryDelay time.Duration
	logger     *slog.Logger

	enabled atomic.Bool
	pending atomic.Int64
	wake    chan struct{}

	mu     sync.RWMutex
	events []func(Event)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRetryDelay sets the delay before a failed push is retried.
func WithRetryDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.retryDelay = d
	}
}

// WithScheduler replaces the timer used for delayed cycles.
func WithScheduler(s Scheduler) PipelineOption {
	return func(p *Pipeline) {
		p.scheduler = s
	}
}

// WithEnabled sets the initial enabled state. Pipelines start enabled.
func WithEnabled(enabled bool) PipelineOption {
	return func(p *Pipeline) {
		p.enabled.Store(enabled)
	}
}

// NewPipeline returns a Pipeline owning queue.
func NewPipeline(
	queue *Queue,
	contacts ContactLoader,
	encoder *vcard.Encoder,
	resolver CredentialResolver,
	client *carddav.Client,
	logger *slog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		queue:      queue,
		contacts:   contacts,
		encoder:    encoder,
		resolver:   resolver,
		client:     client,
		scheduler:  timerScheduler{},
		retryDelay: DefaultRetryDelay,
		logger:     logger,
		wake:       make(chan struct{}, 1),
	}
	p.enabled.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Queue returns the pipeline's queue.
func (p *Pipeline) Queue() *Queue {
	return p.queue
}

// OnEvent registers fn to be called after every cycle that handled a contact.
func (p *Pipeline) OnEvent(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fn)
}

// Enabled reports whether cycles may run.
func (p *Pipeline) Enabled() bool {
	return p.enabled.Load()
}

// SetEnabled toggles the pipeline. Disabled cycles leave the queue alone;
// re-enabling schedules one cycle per queued contact.
func (p *Pipeline) SetEnabled(enabled bool) {
	was := p.enabled.Swap(enabled)
	p.logger.Info("backup: enabled changed", slog.Bool("enabled", enabled))
	if enabled && !was {
		for range p.queue.Len() {
			p.Process(0)
		}
	}
}

// Submit enqueues id and schedules a cycle for it.
func (p *Pipeline) Submit(id string) {
	p.queue.Enqueue(id)
	p.Process(0)
}

// Process schedules one cycle after delay.
func (p *Pipeline) Process(delay time.Duration) {
	if delay <= 0 {
		p.signal()
		return
	}
	p.scheduler.AfterFunc(delay, p.signal)
}

func (p *Pipeline) signal() {
	p.pending.Add(1)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of scheduled cycles not yet run.
func (p *Pipeline) Pending() int64 {
	return p.pending.Load()
}

// Run executes scheduled cycles until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("backup: pipeline started", slog.Bool("enabled", p.Enabled()))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("backup: pipeline stopped")
			return nil
		case <-p.wake:
			for p.pending.Load() > 0 {
				if ctx.Err() != nil {
					break
				}
				p.pending.Add(-1)
				p.Cycle(ctx)
			}
		}
	}
}

// Cycle backs up the head of the queue and returns how it ended.
func (p *Pipeline) Cycle(ctx context.Context) Outcome {
	if !p.Enabled() {
		p.logger.Debug("backup: disabled, cycle skipped", slog.Int("queued", p.queue.Len()))
		return OutcomeDisabled
	}
	id, ok := p.queue.Dequeue()
	if !ok {
		return OutcomeIdle
	}

	ev := Event{ContactID: id, CycleID: uuid.NewString()}
	log := p.logger.With(slog.String("contact_id", id), slog.String("cycle_id", ev.CycleID))

	contact, err := p.contacts.Load(id)
	if err != nil {
		log.Warn("backup: load failed, dropping", slog.String("error", err.Error()))
		return p.finish(ev, OutcomeDropped, err)
	}

	text, err := p.encoder.Encode(contact)
	if err != nil {
		log.Warn("backup: encode failed, dropping", slog.String("error", err.Error()))
		return p.finish(ev, OutcomeDropped, err)
	}

	creds, err := p.resolver.Resolve(ctx)
	if err == nil && !creds.Complete() {
		err = apperr.Auth("backup: credentials", errors.New("no usable credentials"))
	}
	if err != nil {
		log.Warn("backup: credentials unresolved, abandoning", slog.String("error", err.Error()))
		return p.finish(ev, OutcomeAbandoned, err)
	}

	resp, err := p.client.Put(ctx, ResourceURL(creds.URL, id), creds.Username, creds.Password,
		carddav.VCardContentType, []byte(text))
	if err == nil {
		ev.Status = resp.Status
		if resp.OK(http.StatusCreated, http.StatusNoContent) {
			log.Info("backup: pushed", slog.Int("status", resp.Status))
			return p.finish(ev, OutcomePushed, nil)
		}
		err = apperr.Transport("backup: push", errors.New(resp.StatusText))
	}

	p.queue.Enqueue(id)
	p.Process(p.retryDelay)
	log.Warn("backup: push failed, requeued",
		slog.Int("status", ev.Status),
		slog.Duration("retry_in", p.retryDelay),
		slog.String("error", err.Error()))
	return p.finish(ev, OutcomeRequeued, err)
}

func (p *Pipeline) finish(ev Event, outcome Outcome, err error) Outcome {
	ev.Outcome = outcome
	ev.Err = err

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, fn := range p.events {
		fn(ev)
	}
	return outcome
}

// ResourceURL returns the address of contact id under a collection URL.
func ResourceURL(collection, id string) string {
	return strings.TrimRight(collection, "/") + "/" + url.PathEscape(id) + ".vcf"
}
