package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/models"
	"github.com/starford/cardsync/internal/vcard"
)

func TestQueue_Dedup(t *testing.T) {
	q := NewQueue()
	q.Enqueue("1")
	q.Enqueue("1")
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{"1"}, q.Snapshot())

	q = NewQueue()
	q.Enqueue("1")
	q.Enqueue("2")
	q.Enqueue("1")
	assert.Equal(t, []string{"2", "1"}, q.Snapshot())

	id, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "2", id)
	id, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "1", id)
	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestNewQueue_Seeded(t *testing.T) {
	q := NewQueue("a", "b", "a", "c")
	assert.Equal(t, []string{"b", "a", "c"}, q.Snapshot())
}

type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
}

type mapContacts map[string]*models.Contact

func (m mapContacts) Load(id string) (*models.Contact, error) {
	c, ok := m[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

type staticResolver struct {
	profile credstore.Profile
	err     error
	calls   atomic.Int32
}

func (r *staticResolver) Resolve(context.Context) (credstore.Profile, error) {
	r.calls.Add(1)
	return r.profile, r.err
}

type recorded struct {
	method, path, user, pass, contentType, body string
}

func newServer(t *testing.T, status int) (*httptest.Server, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		u, p, _ := r.BasicAuth()
		mu.Lock()
		reqs = append(reqs, recorded{r.Method, r.URL.Path, u, p, r.Header.Get("Content-Type"), string(b)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, resolver CredentialResolver, contacts ContactLoader, opts ...PipelineOption) (*Pipeline, *fakeScheduler, *[]Event) {
	t.Helper()
	sched := &fakeScheduler{}
	var events []Event
	opts = append([]PipelineOption{WithScheduler(sched), WithRetryDelay(time.Second)}, opts...)
	p := NewPipeline(NewQueue(), contacts, mustEncoder(t), resolver, carddav.NewClient(nil, 5*time.Second), testLogger(), opts...)
	p.OnEvent(func(ev Event) { events = append(events, ev) })
	return p, sched, &events
}

func mustEncoder(t *testing.T) *vcard.Encoder {
	t.Helper()
	e, err := vcard.NewEncoder()
	require.NoError(t, err)
	return e
}

var ann = &models.Contact{ID: "c1", Name: models.StringList{"Ann"}}

func TestCycle_PushSuccess(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusNoContent} {
		srv, reqs := newServer(t, status)
		resolver := &staticResolver{profile: credstore.Profile{URL: srv.URL + "/ab/", Username: "u", Password: "p"}}
		p, sched, events := newTestPipeline(t, resolver, mapContacts{"c1": ann})

		p.Queue().Enqueue("c1")
		assert.Equal(t, OutcomePushed, p.Cycle(context.Background()))

		assert.Zero(t, p.Queue().Len())
		assert.Empty(t, sched.delays)
		require.Len(t, *reqs, 1)
		got := (*reqs)[0]
		assert.Equal(t, http.MethodPut, got.method)
		assert.Equal(t, "/ab/c1.vcf", got.path)
		assert.Equal(t, "u", got.user)
		assert.Equal(t, "p", got.pass)
		assert.Equal(t, carddav.VCardContentType, got.contentType)
		assert.True(t, strings.HasPrefix(got.body, "BEGIN:VCARD\r\nVERSION:4.0\r\nFN:Ann\r\n"))

		require.Len(t, *events, 1)
		assert.Equal(t, OutcomePushed, (*events)[0].Outcome)
		assert.Equal(t, status, (*events)[0].Status)
		assert.NotEmpty(t, (*events)[0].CycleID)
	}
}

func TestCycle_ServerErrorRequeues(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError)
	resolver := &staticResolver{profile: credstore.Profile{URL: srv.URL, Username: "u", Password: "p"}}
	p, sched, events := newTestPipeline(t, resolver, mapContacts{"c1": ann, "c2": ann})

	p.Queue().Enqueue("c1")
	p.Queue().Enqueue("c2")
	assert.Equal(t, OutcomeRequeued, p.Cycle(context.Background()))

	assert.Equal(t, []string{"c2", "c1"}, p.Queue().Snapshot())
	assert.Equal(t, []time.Duration{time.Second}, sched.delays)
	require.Len(t, *events, 1)
	assert.ErrorIs(t, (*events)[0].Err, apperr.ErrTransport)
	assert.Equal(t, http.StatusInternalServerError, (*events)[0].Status)
}

func TestCycle_OKIsNotSuccess(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	resolver := &staticResolver{profile: credstore.Profile{URL: srv.URL, Username: "u", Password: "p"}}
	p, sched, _ := newTestPipeline(t, resolver, mapContacts{"c1": ann})

	p.Queue().Enqueue("c1")
	assert.Equal(t, OutcomeRequeued, p.Cycle(context.Background()))
	assert.Len(t, sched.delays, 1)
}

func TestCycle_TransportErrorRequeues(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	resolver := &staticResolver{profile: credstore.Profile{URL: deadURL, Username: "u", Password: "p"}}
	p, sched, events := newTestPipeline(t, resolver, mapContacts{"c1": ann})

	p.Queue().Enqueue("c1")
	assert.Equal(t, OutcomeRequeued, p.Cycle(context.Background()))
	assert.Equal(t, []string{"c1"}, p.Queue().Snapshot())
	assert.Equal(t, []time.Duration{time.Second}, sched.delays)
	assert.ErrorIs(t, (*events)[0].Err, apperr.ErrTransport)
}

func TestCycle_MissingContactDropped(t *testing.T) {
	resolver := &staticResolver{}
	p, sched, events := newTestPipeline(t, resolver, mapContacts{})

	p.Queue().Enqueue("gone")
	assert.Equal(t, OutcomeDropped, p.Cycle(context.Background()))
	assert.Zero(t, p.Queue().Len())
	assert.Empty(t, sched.delays)
	assert.Zero(t, resolver.calls.Load())
	assert.Equal(t, OutcomeDropped, (*events)[0].Outcome)
}

func TestCycle_InvalidContactDropped(t *testing.T) {
	resolver := &staticResolver{}
	bad := &models.Contact{Bday: &models.Date{Raw: "someday"}}
	p, sched, events := newTestPipeline(t, resolver, mapContacts{"bad": bad})

	p.Queue().Enqueue("bad")
	assert.Equal(t, OutcomeDropped, p.Cycle(context.Background()))
	assert.Zero(t, p.Queue().Len())
	assert.Empty(t, sched.delays)
	assert.ErrorIs(t, (*events)[0].Err, apperr.ErrValidation)
}

func TestCycle_UnresolvedCredentialsAbandoned(t *testing.T) {
	cases := map[string]*staticResolver{
		"auth error":           {err: apperr.Auth("identity", errors.New("no account"))},
		"incomplete profile":   {profile: credstore.Profile{URL: "https://x"}},
		"provisioning failure": {err: apperr.Parse("provision", errors.New("bad json"))},
	}
	for name, resolver := range cases {
		t.Run(name, func(t *testing.T) {
			p, sched, events := newTestPipeline(t, resolver, mapContacts{"c1": ann})

			p.Queue().Enqueue("c1")
			assert.Equal(t, OutcomeAbandoned, p.Cycle(context.Background()))
			assert.Zero(t, p.Queue().Len())
			assert.Empty(t, sched.delays)
			assert.Equal(t, OutcomeAbandoned, (*events)[0].Outcome)
		})
	}
}

func TestCycle_EmptyQueue(t *testing.T) {
	p, _, events := newTestPipeline(t, &staticResolver{}, mapContacts{})
	assert.Equal(t, OutcomeIdle, p.Cycle(context.Background()))
	assert.Empty(t, *events)
}

func TestCycle_DisabledLeavesQueue(t *testing.T) {
	srv, reqs := newServer(t, http.StatusNoContent)
	resolver := &staticResolver{profile: credstore.Profile{URL: srv.URL, Username: "u", Password: "p"}}
	p, _, _ := newTestPipeline(t, resolver, mapContacts{"c1": ann}, WithEnabled(false))

	p.Queue().Enqueue("c1")
	assert.Equal(t, OutcomeDisabled, p.Cycle(context.Background()))
	assert.Equal(t, 1, p.Queue().Len())
	assert.Empty(t, *reqs)
}

func TestSetEnabled_KicksPendingContacts(t *testing.T) {
	p, _, _ := newTestPipeline(t, &staticResolver{}, mapContacts{}, WithEnabled(false))
	p.Queue().Enqueue("a")
	p.Queue().Enqueue("b")

	p.SetEnabled(true)
	assert.EqualValues(t, 2, p.Pending())

	p.SetEnabled(true)
	assert.EqualValues(t, 2, p.Pending(), "already enabled should not schedule again")
}

func TestProcess_DelayUsesScheduler(t *testing.T) {
	p, sched, _ := newTestPipeline(t, &staticResolver{}, mapContacts{})

	p.Process(0)
	assert.EqualValues(t, 1, p.Pending())
	assert.Empty(t, sched.delays)

	p.Process(250 * time.Millisecond)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, sched.delays)
	assert.EqualValues(t, 1, p.Pending())

	sched.funcs[0]()
	assert.EqualValues(t, 2, p.Pending())
}

func TestRun_ProcessesSubmittedContacts(t *testing.T) {
	srv, reqs := newServer(t, http.StatusNoContent)
	resolver := &staticResolver{profile: credstore.Profile{URL: srv.URL, Username: "u", Password: "p"}}
	p := NewPipeline(NewQueue(), mapContacts{"c1": ann, "c2": ann}, mustEncoder(t), resolver,
		carddav.NewClient(nil, 5*time.Second), testLogger())

	pushed := make(chan string, 2)
	p.OnEvent(func(ev Event) {
		if ev.Outcome == OutcomePushed {
			pushed <- ev.ContactID
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Submit("c1")
	p.Submit("c2")

	var got []string
	for range 2 {
		select {
		case id := <-pushed:
			got = append(got, id)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for pushes")
		}
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, got)
	assert.Len(t, *reqs, 2)

	cancel()
	require.NoError(t, <-done)
}

func TestRestorer_Fetch(t *testing.T) {
	body, err := vcard.Encode(&models.Contact{Name: models.StringList{"Ann"}, Note: models.StringList{"a, b"}})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ab/c1.vcf" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	resolver := &staticResolver{profile: credstore.Profile{URL: srv.URL + "/ab", Username: "u", Password: "p"}}
	r := NewRestorer(resolver, carddav.NewClient(nil, 5*time.Second))

	c, err := r.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, models.StringList{"Ann"}, c.Name)
	assert.Equal(t, models.StringList{"a, b"}, c.Note)

	_, err = r.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResourceURL(t *testing.T) {
	assert.Equal(t, "https://x/ab/c1.vcf", ResourceURL("https://x/ab/", "c1"))
	assert.Equal(t, "https://x/ab/a%2Fb.vcf", ResourceURL("https://x/ab", "a/b"))
}
