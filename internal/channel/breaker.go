package channel

import (
	"context"
	"sync"

	"github.com/lalithlochan/reminders/internal/circuitbreaker"
)

// The breaker wrappers fail fast with circuitbreaker.ErrCircuitOpen once a
// provider has failed repeatedly, so a batch does not wait on it per row.

type breakerEmail struct {
	next Email
	cb   *circuitbreaker.CircuitBreaker
}

func EmailWithBreaker(next Email, cb *circuitbreaker.CircuitBreaker) Email {
	return &breakerEmail{next: next, cb: cb}
}

func (b *breakerEmail) SendEmail(ctx context.Context, msg EmailMessage) error {
	return b.cb.Execute(func() error { return b.next.SendEmail(ctx, msg) })
}

type breakerSMS struct {
	next       SMS
	newBreaker func(name string) *circuitbreaker.CircuitBreaker
	breakers   sync.Map // SMSCredentials.Key -> *circuitbreaker.CircuitBreaker
}

// SMSWithBreaker keeps one breaker per credential set, so one
// organization's rejected credentials never block another's messages.
// Missing credentials are a configuration problem, not a provider failure,
// and do not count against any breaker.
func SMSWithBreaker(next SMS, newBreaker func(name string) *circuitbreaker.CircuitBreaker) SMS {
	return &breakerSMS{next: next, newBreaker: newBreaker}
}

func (b *breakerSMS) SendSMS(ctx context.Context, msg SMSMessage, creds SMSCredentials) error {
	if creds.Empty() {
		return b.next.SendSMS(ctx, msg, creds)
	}
	return b.breaker(creds).Execute(func() error { return b.next.SendSMS(ctx, msg, creds) })
}

func (b *breakerSMS) breaker(creds SMSCredentials) *circuitbreaker.CircuitBreaker {
	key := creds.Key()
	if cb, ok := b.breakers.Load(key); ok {
		return cb.(*circuitbreaker.CircuitBreaker)
	}
	cb, _ := b.breakers.LoadOrStore(key, b.newBreaker(NameSMS+":"+creds.AccessKeyID))
	return cb.(*circuitbreaker.CircuitBreaker)
}

type breakerPush struct {
	next Push
	cb   *circuitbreaker.CircuitBreaker
}

func PushWithBreaker(next Push, cb *circuitbreaker.CircuitBreaker) Push {
	return &breakerPush{next: next, cb: cb}
}

func (b *breakerPush) Push(ctx context.Context, event PushEvent) error {
	return b.cb.Execute(func() error { return b.next.Push(ctx, event) })
}
