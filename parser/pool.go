package parser

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/docpipe/errors"
)

// Policy picks which of n endpoints serves the next request.
type Policy interface {
	Pick(n int) int
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(n int) int

func (f PolicyFunc) Pick(n int) int { return f(n) }

// RoundRobin cycles through endpoints in order. The counter belongs to the
// instance, so two pools never share a rotation.
type RoundRobin struct {
	next atomic.Uint64
}

func (p *RoundRobin) Pick(n int) int {
	return int((p.next.Add(1) - 1) % uint64(n))
}

// Random picks endpoints uniformly from an injected source.
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom creates a random policy. A nil rnd is seeded from the clock.
func NewRandom(rnd *rand.Rand) *Random {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Random{rnd: rnd}
}

func (p *Random) Pick(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Intn(n)
}

// PolicyByName maps parser.tika.policy to a fresh policy.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round_robin", "round-robin":
		return &RoundRobin{}, nil
	case "random":
		return NewRandom(nil), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown endpoint policy %q", name)
	}
}

// Pool is a fixed set of parser endpoints plus the policy choosing among them.
type Pool struct {
	endpoints []string
	policy    Policy
}

// NewPool validates endpoints and binds them to policy.
func NewPool(endpoints []string, policy Policy) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, errors.NewInvalidRequestError("endpoint pool is empty")
	}
	if policy == nil {
		policy = &RoundRobin{}
	}
	clean := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errors.NewInvalidRequestError("invalid endpoint %q", ep)
		}
		clean = append(clean, ep)
	}
	return &Pool{endpoints: clean, policy: policy}, nil
}

// Next returns the endpoint chosen by the policy. Out-of-range picks wrap.
func (p *Pool) Next() string {
	n := len(p.endpoints)
	i := p.policy.Pick(n) % n
	if i < 0 {
		i += n
	}
	return p.endpoints[i]
}

// Endpoints returns a copy of the pool's endpoints.
func (p *Pool) Endpoints() []string {
	return append([]string(nil), p.endpoints...)
}
