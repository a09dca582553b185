package code

import (
	"sync"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/google/uuid"
)

type opKind int

const (
	opPut opKind = iota
	opGet
	opDelete
	opLen
)

type op[F any] struct {
	kind  opKind
	id    uuid.UUID
	fn    F
	reply chan result[F]
}

type result[F any] struct {
	fn  F
	ok  bool
	len int
}

// Registry maps ids to in-memory code. The map is owned by one goroutine and
// every access goes through its mailbox. After Close, Get reports nothing and
// writes are dropped.
type Registry[F any] struct {
	mailbox chan op[F]
	done    chan struct{}
	once    sync.Once
}

// NewJobRegistry returns a registry of job executables.
func NewJobRegistry() *Registry[core.Executable] {
	return NewRegistry[core.Executable]()
}

// NewNotificationRegistry returns a registry of notification callbacks.
func NewNotificationRegistry() *Registry[core.NotificationFunc] {
	return NewRegistry[core.NotificationFunc]()
}

func NewRegistry[F any]() *Registry[F] {
	r := &Registry[F]{
		mailbox: make(chan op[F]),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Registry[F]) loop() {
	entries := make(map[uuid.UUID]F)
	for {
		select {
		case <-r.done:
			return
		case o := <-r.mailbox:
			switch o.kind {
			case opPut:
				entries[o.id] = o.fn
			case opDelete:
				delete(entries, o.id)
			case opGet:
				fn, ok := entries[o.id]
				o.reply <- result[F]{fn: fn, ok: ok}
			case opLen:
				o.reply <- result[F]{len: len(entries)}
			}
		}
	}
}

func (r *Registry[F]) send(o op[F]) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.mailbox <- o:
		return true
	case <-r.done:
		return false
	}
}

func (r *Registry[F]) call(kind opKind, id uuid.UUID) (result[F], bool) {
	reply := make(chan result[F], 1)
	if !r.send(op[F]{kind: kind, id: id, reply: reply}) {
		return result[F]{}, false
	}
	select {
	case res := <-reply:
		return res, true
	case <-r.done:
		return result[F]{}, false
	}
}

func (r *Registry[F]) Put(id uuid.UUID, fn F) {
	r.send(op[F]{kind: opPut, id: id, fn: fn})
}

func (r *Registry[F]) Get(id uuid.UUID) (F, bool) {
	res, ok := r.call(opGet, id)
	return res.fn, ok && res.ok
}

func (r *Registry[F]) Delete(id uuid.UUID) {
	r.send(op[F]{kind: opDelete, id: id})
}

func (r *Registry[F]) Len() int {
	res, _ := r.call(opLen, uuid.Nil)
	return res.len
}

// Close stops the owning goroutine.
func (r *Registry[F]) Close() {
	r.once.Do(func() { close(r.done) })
}

var (
	_ core.JobCode          = (*Registry[core.Executable])(nil)
	_ core.NotificationCode = (*Registry[core.NotificationFunc])(nil)
)
