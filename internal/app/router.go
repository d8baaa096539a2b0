package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
	"github.com/skillshare/realtime/internal/metrics"
)

type Scope int

const (
	// ScopeOthers delivers to every member except the sender.
	ScopeOthers Scope = iota
	// ScopeAll delivers to every member, sender included.
	ScopeAll
)

func (s Scope) String() string {
	if s == ScopeAll {
		return "all"
	}
	return "others"
}

// Classify maps a message type to its delivery scope. Unknown types pass
// through to the others so new signaling types need no router change.
func Classify(typ string) Scope {
	switch typ {
	case domain.TypeUserJoined, domain.TypeUserLeft:
		return ScopeAll
	default:
		return ScopeOthers
	}
}

// Validator inspects a decoded frame before it is relayed.
type Validator func(in *Inbound) error

type Delivery struct {
	Scope   Scope
	Sent    int
	Dropped int
}

// Router fans inbound frames out to the members of one registry.
// targetUserId is carried in the envelope but never narrows delivery;
// receivers ignore frames addressed to someone else.
type Router[K comparable] struct {
	name     string
	reg      *Registry[K]
	keyField string
	validate Validator
	policy   Policy
}

type RouterOption[K comparable] func(*Router[K])

func WithValidator[K comparable](v Validator) RouterOption[K] {
	return func(r *Router[K]) { r.validate = v }
}

func WithPolicy[K comparable](p Policy) RouterOption[K] {
	return func(r *Router[K]) { r.policy = p }
}

func NewRouter[K comparable](name string, reg *Registry[K], keyField string, opts ...RouterOption[K]) *Router[K] {
	r := &Router[K]{
		name:     name,
		reg:      reg,
		keyField: keyField,
		policy:   SimplePolicy{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Router[K]) Registry() *Registry[K] { return r.reg }

// Route relays one inbound frame from sender. A malformed frame is dropped
// and reported; the sender's connection is left alone.
func (r *Router[K]) Route(sender *core.Connection, key K, raw []byte) (Delivery, error) {
	in, err := DecodeInbound(raw)
	if err == nil && r.validate != nil {
		if verr := r.validate(in); verr != nil {
			err = fmt.Errorf("%w: %v", domain.ErrMalformed, verr)
			if errors.Is(verr, domain.ErrMalformed) {
				err = verr
			}
		}
	}
	if err != nil {
		metrics.FramesDropped.WithLabelValues(r.name, metrics.ReasonMalformed).Inc()
		log.Warn().Err(err).Str("module", "app.router").Str("router", r.name).Interface("key", key).Uint64("conn", sender.ID).Msg("frame dropped")
		return Delivery{}, err
	}

	env := Envelope{
		Type:         in.Type,
		Data:         in.Payload,
		KeyField:     r.keyField,
		Key:          key,
		SenderID:     sender.UserID,
		TargetUserID: in.Target,
		Timestamp:    time.Now(),
	}

	scope := Classify(in.Type)
	var targets []*core.Connection
	if scope == ScopeAll {
		targets = r.reg.AllMembers(key)
	} else {
		targets = r.reg.MembersExcept(key, sender)
	}
	d := r.deliver(targets, env, scope)
	log.Debug().Str("module", "app.router").Str("router", r.name).Interface("key", key).Str("type", in.Type).Str("scope", scope.String()).Int("sent", d.Sent).Int("dropped", d.Dropped).Msg("routed")
	return d, nil
}

// Broadcast sends env to every member of the session.
func (r *Router[K]) Broadcast(key K, env Envelope) Delivery {
	return r.deliver(r.reg.AllMembers(key), r.keyed(key, env), ScopeAll)
}

// BroadcastOthers sends env to every member except one.
func (r *Router[K]) BroadcastOthers(key K, except *core.Connection, env Envelope) Delivery {
	return r.deliver(r.reg.MembersExcept(key, except), r.keyed(key, env), ScopeOthers)
}

// SendTo writes env to a single connection, registered or not.
func (r *Router[K]) SendTo(c *core.Connection, env Envelope) error {
	f, err := env.Frame()
	if err != nil {
		return err
	}
	if err := c.Signal.TrySend(f); err != nil {
		r.onSendFailure(c, err)
		return err
	}
	return nil
}

func (r *Router[K]) keyed(key K, env Envelope) Envelope {
	if env.KeyField == "" {
		env.KeyField = r.keyField
		env.Key = key
	}
	return env
}

// deliver runs without any registry lock held. A failing peer never aborts
// the loop.
func (r *Router[K]) deliver(targets []*core.Connection, env Envelope, scope Scope) Delivery {
	d := Delivery{Scope: scope}
	if len(targets) == 0 {
		return d
	}
	f, err := env.Frame()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("router", r.name).Str("type", env.Type).Msg("encode envelope")
		return d
	}
	for _, c := range targets {
		if err := c.Signal.TrySend(f); err != nil {
			d.Dropped++
			r.onSendFailure(c, err)
			continue
		}
		d.Sent++
	}
	if d.Sent > 0 {
		metrics.FramesRouted.WithLabelValues(r.name, scope.String()).Add(float64(d.Sent))
	}
	return d
}

func (r *Router[K]) onSendFailure(c *core.Connection, err error) {
	reason := metrics.ReasonBackpressure
	if errors.Is(err, domain.ErrConnClosed) {
		reason = metrics.ReasonClosed
	}
	metrics.FramesDropped.WithLabelValues(r.name, reason).Inc()

	action := r.policy.OnBackPressure(c, err)
	log.Warn().Err(err).Str("module", "app.router").Str("router", r.name).Uint64("conn", c.ID).Str("user_id", string(c.UserID)).Str("action", action.String()).Msg("send failed")
	if action == KickMember {
		c.Signal.Close()
	}
}
