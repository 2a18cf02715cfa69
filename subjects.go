// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package natsd

import (
	"bytes"
	"sync"

	"github.com/mochi-mqtt/natsd/commands"
	"github.com/mochi-mqtt/natsd/mempool"
)

// Sink is the write capability of a subscriber. Deliver must not block on I/O.
type Sink interface {
	ClientID() string
	Deliver(msg []byte) error
}

// Subscriber is a single subscription entry for a subject.
type Subscriber struct {
	Sink Sink   // where matching messages are delivered
	SID  uint16 // the client chosen subscription id
}

// Registry maps subjects to their subscribers and fans publications out to them.
type Registry interface {
	Subscribe(subject string, sub Subscriber) bool
	Unsubscribe(sid uint16) (bool, error)
	Subscribers(subject string) []Subscriber
	Publish(subject string, payload []byte) int
}

// SubjectsIndex is a concurrency safe Registry keyed on exact subject match.
type SubjectsIndex struct {
	internal map[string]map[uint16]Subscriber // subscribers keyed on subject, then sid
	sync.RWMutex
}

// NewSubjectsIndex returns a new instance of SubjectsIndex.
func NewSubjectsIndex() *SubjectsIndex {
	return &SubjectsIndex{
		internal: map[string]map[uint16]Subscriber{},
	}
}

// Subscribe adds a subscriber to a subject. If the subject already holds the
// sid, the sink is replaced and false is returned.
func (x *SubjectsIndex) Subscribe(subject string, sub Subscriber) bool {
	x.Lock()
	defer x.Unlock()

	subs, ok := x.internal[subject]
	if !ok {
		subs = map[uint16]Subscriber{}
		x.internal[subject] = subs
	}

	_, existed := subs[sub.SID]
	subs[sub.SID] = sub
	return !existed
}

// Unsubscribe removes the sid from every subject which holds it. It returns
// ErrSubscriptionNotFound if no subject held the sid.
func (x *SubjectsIndex) Unsubscribe(sid uint16) (bool, error) {
	x.Lock()
	defer x.Unlock()

	var removed bool
	for subject, subs := range x.internal {
		if _, ok := subs[sid]; !ok {
			continue
		}

		delete(subs, sid)
		removed = true
		if len(subs) == 0 {
			delete(x.internal, subject)
		}
	}

	if !removed {
		return false, commands.ErrSubscriptionNotFound
	}

	return true, nil
}

// UnsubscribeClient removes every subscription whose sink belongs to the
// client id, returning the number of subscriptions removed.
func (x *SubjectsIndex) UnsubscribeClient(id string) int {
	x.Lock()
	defer x.Unlock()

	var n int
	for subject, subs := range x.internal {
		for sid, sub := range subs {
			if sub.Sink != nil && sub.Sink.ClientID() == id {
				delete(subs, sid)
				n++
			}
		}

		if len(subs) == 0 {
			delete(x.internal, subject)
		}
	}

	return n
}

// Subscribers returns a snapshot of the subscribers of a subject.
func (x *SubjectsIndex) Subscribers(subject string) []Subscriber {
	x.RLock()
	defer x.RUnlock()

	subs := x.internal[subject]
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}

	return out
}

// Publish delivers the payload as a MSG frame to each subscriber of the
// subject, returning the number of successful deliveries. The lock is not held
// while delivering, and a failing subscriber does not affect the others.
func (x *SubjectsIndex) Publish(subject string, payload []byte) int {
	var n int
	for _, sub := range x.Subscribers(subject) {
		if sub.Sink == nil {
			continue
		}

		msg := mempool.Render(func(buf *bytes.Buffer) {
			commands.EncodeMsg(buf, subject, sub.SID, payload)
		})

		if err := sub.Sink.Deliver(msg); err != nil {
			continue
		}
		n++
	}

	return n
}

// Len returns the number of subscriptions held.
func (x *SubjectsIndex) Len() int {
	x.RLock()
	defer x.RUnlock()

	var n int
	for _, subs := range x.internal {
		n += len(subs)
	}

	return n
}

// SubjectsLen returns the number of subjects with at least one subscriber.
func (x *SubjectsIndex) SubjectsLen() int {
	x.RLock()
	defer x.RUnlock()
	return len(x.internal)
}
