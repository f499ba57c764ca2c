package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
)

// Server holds per-user envelope queues in memory.
type Server struct {
	sync.Mutex

	log     *logging.Logger
	queues  map[domain.Username][]domain.Envelope
	waiters map[domain.Username]map[chan struct{}]struct{}
}

// NewServer returns an empty relay.
func NewServer(log *logging.Logger) *Server {
	return &Server{
		log:     log,
		queues:  make(map[domain.Username][]domain.Envelope),
		waiters: make(map[domain.Username]map[chan struct{}]struct{}),
	}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /msg/{user}", s.handlePost)
	mux.HandleFunc("GET /msg/{user}", s.handleFetch)
	mux.HandleFunc("GET /ws/{user}", s.handleSubscribe)
	return mux
}

// Pending returns how many envelopes wait for user.
func (s *Server) Pending(user domain.Username) int {
	s.Lock()
	defer s.Unlock()
	return len(s.queues[user])
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env.To = domain.Username(r.PathValue("user"))
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	s.enqueue(env)
	s.log.Debugf("Queued %v from %v to %v", env.ID, env.From, env.To)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	envs := s.drain(domain.Username(r.PathValue("user")))
	if envs == nil {
		envs = []domain.Envelope{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envs)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("user"))
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warningf("Rejected subscription for %v: %v", user, err)
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	wake := s.watch(user)
	defer s.unwatch(user, wake)
	s.log.Debugf("Subscriber attached for %v", user)

	for {
		envs := s.drain(user)
		for i, env := range envs {
			b, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				s.requeue(user, envs[i:])
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}

func (s *Server) enqueue(env domain.Envelope) {
	s.Lock()
	defer s.Unlock()
	s.queues[env.To] = append(s.queues[env.To], env)
	for c := range s.waiters[env.To] {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (s *Server) requeue(user domain.Username, envs []domain.Envelope) {
	s.Lock()
	defer s.Unlock()
	s.queues[user] = append(append([]domain.Envelope(nil), envs...), s.queues[user]...)
}

func (s *Server) drain(user domain.Username) []domain.Envelope {
	s.Lock()
	defer s.Unlock()
	envs := s.queues[user]
	delete(s.queues, user)
	return envs
}

func (s *Server) watch(user domain.Username) chan struct{} {
	c := make(chan struct{}, 1)
	s.Lock()
	defer s.Unlock()
	if s.waiters[user] == nil {
		s.waiters[user] = make(map[chan struct{}]struct{})
	}
	s.waiters[user][c] = struct{}{}
	return c
}

func (s *Server) unwatch(user domain.Username, c chan struct{}) {
	s.Lock()
	defer s.Unlock()
	delete(s.waiters[user], c)
	if len(s.waiters[user]) == 0 {
		delete(s.waiters, user)
	}
}
