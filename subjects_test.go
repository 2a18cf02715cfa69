// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package natsd

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/natsd/commands"
)

// memSink is an in-memory Sink which records every delivery.
type memSink struct {
	sync.Mutex
	id   string
	msgs [][]byte
	err  error
}

func newMemSink(id string) *memSink {
	return &memSink{id: id}
}

func (s *memSink) ClientID() string {
	return s.id
}

func (s *memSink) Deliver(msg []byte) error {
	s.Lock()
	defer s.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memSink) Messages() []string {
	s.Lock()
	defer s.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = string(m)
	}
	return out
}

func TestNewSubjectsIndex(t *testing.T) {
	index := NewSubjectsIndex()
	require.NotNil(t, index)
	require.NotNil(t, index.internal)
	require.Equal(t, 0, index.Len())
	require.Equal(t, 0, index.SubjectsLen())

	var _ Registry = index
}

func TestSubjectsSubscribe(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")

	require.True(t, index.Subscribe("FOO", Subscriber{SID: 1, Sink: a}))
	require.True(t, index.Subscribe("FOO", Subscriber{SID: 2, Sink: a}))
	require.True(t, index.Subscribe("BAR", Subscriber{SID: 1, Sink: a}))
	require.Equal(t, 3, index.Len())
	require.Equal(t, 2, index.SubjectsLen())
}

func TestSubjectsSubscribeReplaces(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	b := newMemSink("b")

	require.True(t, index.Subscribe("FOO", Subscriber{SID: 1, Sink: a}))
	require.False(t, index.Subscribe("FOO", Subscriber{SID: 1, Sink: b}))
	require.Equal(t, 1, index.Len())

	subs := index.Subscribers("FOO")
	require.Len(t, subs, 1)
	require.Equal(t, "b", subs[0].Sink.ClientID())
}

func TestSubjectsSubscribersCaseSensitive(t *testing.T) {
	index := NewSubjectsIndex()
	index.Subscribe("foo", Subscriber{SID: 1, Sink: newMemSink("a")})
	require.Empty(t, index.Subscribers("FOO"))
	require.Len(t, index.Subscribers("foo"), 1)
}

func TestSubjectsSubscribersSnapshot(t *testing.T) {
	index := NewSubjectsIndex()
	index.Subscribe("FOO", Subscriber{SID: 1, Sink: newMemSink("a")})
	subs := index.Subscribers("FOO")

	index.Subscribe("FOO", Subscriber{SID: 2, Sink: newMemSink("b")})
	require.Len(t, subs, 1)
	require.Len(t, index.Subscribers("FOO"), 2)
	require.NotNil(t, index.Subscribers("none"))
	require.Empty(t, index.Subscribers("none"))
}

func TestSubjectsUnsubscribe(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	index.Subscribe("FOO", Subscriber{SID: 1, Sink: a})
	index.Subscribe("FOO", Subscriber{SID: 2, Sink: a})

	ok, err := index.Unsubscribe(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, index.Len())

	ok, err = index.Unsubscribe(1)
	require.ErrorIs(t, err, commands.ErrSubscriptionNotFound)
	require.False(t, ok)
}

func TestSubjectsUnsubscribeAllSubjects(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	index.Subscribe("FOO", Subscriber{SID: 7, Sink: a})
	index.Subscribe("BAR", Subscriber{SID: 7, Sink: a})
	index.Subscribe("BAR", Subscriber{SID: 8, Sink: a})

	ok, err := index.Unsubscribe(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, index.Subscribers("FOO"))
	require.Len(t, index.Subscribers("BAR"), 1)
	require.Equal(t, 1, index.SubjectsLen())
}

func TestSubjectsUnsubscribeEmpty(t *testing.T) {
	index := NewSubjectsIndex()
	_, err := index.Unsubscribe(1)
	require.ErrorIs(t, err, commands.ErrSubscriptionNotFound)
}

func TestSubjectsUnsubscribeClient(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	b := newMemSink("b")
	index.Subscribe("FOO", Subscriber{SID: 1, Sink: a})
	index.Subscribe("BAR", Subscriber{SID: 2, Sink: a})
	index.Subscribe("FOO", Subscriber{SID: 3, Sink: b})

	require.Equal(t, 2, index.UnsubscribeClient("a"))
	require.Equal(t, 1, index.Len())
	require.Equal(t, 1, index.SubjectsLen())
	require.Equal(t, 0, index.UnsubscribeClient("a"))
}

func TestSubjectsPublish(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	b := newMemSink("b")
	index.Subscribe("FOO", Subscriber{SID: 1, Sink: a})
	index.Subscribe("FOO", Subscriber{SID: 9, Sink: b})
	index.Subscribe("BAR", Subscriber{SID: 2, Sink: b})

	n := index.Publish("FOO", []byte("Hello John!"))
	require.Equal(t, 2, n)
	require.Equal(t, []string{"-MSG FOO 1 11\r\nHello John!\r\n"}, a.Messages())
	require.Equal(t, []string{"-MSG FOO 9 11\r\nHello John!\r\n"}, b.Messages())
}

func TestSubjectsPublishNoSubscribers(t *testing.T) {
	index := NewSubjectsIndex()
	require.Equal(t, 0, index.Publish("FOO", []byte("hello")))
}

func TestSubjectsPublishSwallowsDeliveryErrors(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	a.err = errors.New("test")
	b := newMemSink("b")
	index.Subscribe("FOO", Subscriber{SID: 1, Sink: a})
	index.Subscribe("FOO", Subscriber{SID: 2, Sink: b})

	require.Equal(t, 1, index.Publish("FOO", []byte("hi")))
	require.Empty(t, a.Messages())
	require.Equal(t, []string{"-MSG FOO 2 2\r\nhi\r\n"}, b.Messages())
}

func TestSubjectsPublishDeliveriesDoNotAlias(t *testing.T) {
	index := NewSubjectsIndex()
	a := newMemSink("a")
	index.Subscribe("FOO", Subscriber{SID: 1, Sink: a})

	index.Publish("FOO", []byte("one"))
	index.Publish("FOO", []byte("two"))
	require.Equal(t, []string{
		"-MSG FOO 1 3\r\none\r\n",
		"-MSG FOO 1 3\r\ntwo\r\n",
	}, a.Messages())
}

func TestSubjectsConcurrentAccess(t *testing.T) {
	index := NewSubjectsIndex()
	sinks := make([]*memSink, 8)
	for i := range sinks {
		sinks[i] = newMemSink("c" + strconv.Itoa(i))
	}

	var wg sync.WaitGroup
	for i := range sinks {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				index.Subscribe("FOO", Subscriber{SID: uint16(i*1000 + j), Sink: sinks[i]})
			}
		}(i)

		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				index.Publish("FOO", []byte("x"))
			}
		}()

		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = index.Unsubscribe(uint16(i*1000 + j))
			}
		}(i)
	}
	wg.Wait()

	// every unsubscribe either preceded or followed its subscribe, so between
	// 50 and 100 entries per client remain.
	require.GreaterOrEqual(t, index.Len(), 8*50)
	require.LessOrEqual(t, index.Len(), 8*100)

	for _, s := range sinks {
		for _, m := range s.Messages() {
			require.Contains(t, m, "-MSG FOO ")
		}
	}
}

func BenchmarkSubjectsPublish(b *testing.B) {
	index := NewSubjectsIndex()
	for i := 0; i < 10; i++ {
		index.Subscribe("FOO", Subscriber{SID: uint16(i), Sink: newMemSink("a")})
	}

	payload := []byte("hello")
	for n := 0; n < b.N; n++ {
		index.Publish("FOO", payload)
	}
}
