package session_test

import (
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/session"
)

type ended struct {
	session memory.Session
	reason  memory.EndReason
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Tracker", func() {
	var (
		clock   *fakeClock
		mu      sync.Mutex
		events  []ended
		tracker *session.Tracker
	)

	endedEvents := func() []ended {
		mu.Lock()
		defer mu.Unlock()
		return append([]ended(nil), events...)
	}

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
		events = nil
		tracker = session.NewTracker(session.Config{
			Timeout: 300 * time.Second,
			Clock:   clock.Now,
			OnEnd: func(s memory.Session, reason memory.EndReason) {
				mu.Lock()
				defer mu.Unlock()
				events = append(events, ended{session: s, reason: reason})
			},
		})
	})

	Describe("StartSession", func() {
		It("assigns a fresh session id per session", func() {
			first, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(first).NotTo(BeEmpty())

			tracker.RecordTurn("conn-1", "hi", "hello")
			tracker.EndSession("conn-1", memory.EndReasonDisconnect)

			second, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).NotTo(Equal(first))
		})

		It("rejects a connection that already has a session", func() {
			_, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())

			_, err = tracker.StartSession("agent-a", "conn-1")
			Expect(err).To(MatchError(session.ErrConnectionExists))
		})
	})

	Describe("RecordTurn", func() {
		It("appends turns in order and updates last activity", func() {
			_, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Second)
			Expect(tracker.RecordTurn("conn-1", "one", "1")).To(BeTrue())
			clock.Advance(time.Second)
			Expect(tracker.RecordTurn("conn-1", "two", "2")).To(BeTrue())

			s, ok := tracker.Lookup("conn-1")
			Expect(ok).To(BeTrue())
			Expect(s.Turns).To(HaveLen(2))
			Expect(s.Turns[0].UserText).To(Equal("one"))
			Expect(s.Turns[1].AgentText).To(Equal("2"))
			Expect(s.LastActivity).To(Equal(clock.Now()))
		})

		It("ignores unknown connections", func() {
			Expect(tracker.RecordTurn("nope", "hi", "hello")).To(BeFalse())
			Expect(tracker.Active()).To(BeEmpty())
		})

		It("does not resurrect an ended session", func() {
			_, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn("conn-1", "hi", "hello")
			tracker.EndSession("conn-1", memory.EndReasonDisconnect)

			Expect(tracker.RecordTurn("conn-1", "late", "turn")).To(BeFalse())
			Expect(tracker.Active()).To(BeEmpty())
			Expect(endedEvents()).To(HaveLen(1))
			Expect(endedEvents()[0].session.Turns).To(HaveLen(1))
		})
	})

	Describe("EndSession", func() {
		It("fires the handler with a snapshot and the reason", func() {
			id, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn("conn-1", "hi", "hello")

			Expect(tracker.EndSession("conn-1", memory.EndReasonDisconnect)).To(BeTrue())

			got := endedEvents()
			Expect(got).To(HaveLen(1))
			Expect(got[0].session.SessionID).To(Equal(id))
			Expect(got[0].session.AgentID).To(Equal("agent-a"))
			Expect(got[0].reason).To(Equal(memory.EndReasonDisconnect))
		})

		It("is a no-op for unknown connections", func() {
			Expect(tracker.EndSession("nope", memory.EndReasonDisconnect)).To(BeFalse())
			Expect(endedEvents()).To(BeEmpty())
		})

		It("discards sessions without turns silently", func() {
			_, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())

			Expect(tracker.EndSession("conn-1", memory.EndReasonDisconnect)).To(BeTrue())
			Expect(endedEvents()).To(BeEmpty())
			Expect(tracker.Active()).To(BeEmpty())
		})
	})

	Describe("CheckTimeouts", func() {
		It("expires a session idle for 301s but not one idle for 299s", func() {
			_, err := tracker.StartSession("agent-a", "stale")
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn("stale", "hi", "hello")

			clock.Advance(2 * time.Second)
			_, err = tracker.StartSession("agent-a", "fresh")
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn("fresh", "hi", "hello")

			Expect(tracker.CheckTimeouts(clock.Now().Add(299 * time.Second))).To(Equal(1))

			got := endedEvents()
			Expect(got).To(HaveLen(1))
			Expect(got[0].session.ConnectionID).To(Equal("stale"))
			Expect(got[0].reason).To(Equal(memory.EndReasonSilenceTimeout))

			_, ok := tracker.Lookup("fresh")
			Expect(ok).To(BeTrue())
		})

		It("expires at exactly the timeout", func() {
			_, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn("conn-1", "hi", "hello")

			Expect(tracker.CheckTimeouts(clock.Now().Add(300 * time.Second))).To(Equal(1))
		})

		It("ends a three-turn session idle for 301s exactly once", func() {
			id, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 3; i++ {
				clock.Advance(10 * time.Second)
				tracker.RecordTurn("conn-1", "q", "a")
			}

			now := clock.Now().Add(301 * time.Second)
			Expect(tracker.CheckTimeouts(now)).To(Equal(1))
			Expect(tracker.CheckTimeouts(now)).To(Equal(0))

			got := endedEvents()
			Expect(got).To(HaveLen(1))
			Expect(got[0].session.SessionID).To(Equal(id))
			Expect(got[0].session.Turns).To(HaveLen(3))
			Expect(got[0].reason).To(Equal(memory.EndReasonSilenceTimeout))
		})

		It("keeps sessions alive on Touch", func() {
			_, err := tracker.StartSession("agent-a", "conn-1")
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn("conn-1", "hi", "hello")

			clock.Advance(200 * time.Second)
			Expect(tracker.Touch("conn-1")).To(BeTrue())

			Expect(tracker.CheckTimeouts(clock.Now().Add(200 * time.Second))).To(Equal(0))
		})
	})

	It("fires exactly once when disconnect and timeout race", func() {
		const sessions = 200
		for i := 0; i < sessions; i++ {
			conn := connID(i)
			_, err := tracker.StartSession("agent-a", conn)
			Expect(err).NotTo(HaveOccurred())
			tracker.RecordTurn(conn, "hi", "hello")
		}

		expiry := clock.Now().Add(time.Hour)

		var wg sync.WaitGroup
		for i := 0; i < sessions; i++ {
			wg.Add(1)
			go func(conn string) {
				defer wg.Done()
				tracker.EndSession(conn, memory.EndReasonDisconnect)
			}(connID(i))
		}
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tracker.CheckTimeouts(expiry)
			}()
		}
		wg.Wait()

		got := endedEvents()
		Expect(got).To(HaveLen(sessions))

		seen := map[string]int{}
		for _, e := range got {
			seen[e.session.SessionID]++
		}
		Expect(seen).To(HaveLen(sessions))
		for _, n := range seen {
			Expect(n).To(Equal(1))
		}
	})
})

func connID(i int) string {
	return "conn-" + strconv.Itoa(i)
}
