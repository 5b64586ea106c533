package realtime

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestPresenceMultipleTabs(t *testing.T) {
	p := NewPresence()
	if !p.AddConnection("B", "s1") {
		t.Fatal("first connection should bring B online")
	}
	if p.AddConnection("B", "s2") {
		t.Fatal("second tab must not report a transition")
	}
	if p.RemoveConnection("B", "s1") {
		t.Fatal("B still has s2 open")
	}
	if !p.IsOnline("B") {
		t.Fatal("B should stay online")
	}
	if !p.RemoveConnection("B", "s2") {
		t.Fatal("last connection should take B offline")
	}
	if p.IsOnline("B") || p.Count() != 0 {
		t.Fatalf("online=%v", p.Online())
	}
}

func TestPresenceIgnoresUnknownSessions(t *testing.T) {
	p := NewPresence()
	p.AddConnection("O", "s1")
	if p.RemoveConnection("O", "other") || p.RemoveConnection("ghost", "s1") {
		t.Fatal("unknown removals must be no-ops")
	}
	if p.AddConnection("", "s9") || p.AddConnection("X", "") {
		t.Fatal("blank ids are rejected")
	}
	if got := p.Online(); !reflect.DeepEqual(got, []string{"O"}) {
		t.Fatalf("online=%v", got)
	}
}

func TestPresenceConcurrentChurn(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := string(rune('a'+i%26)) + string(rune('A'+i/26))
			p.AddConnection("B", sid)
			p.RemoveConnection("B", sid)
		}(i)
	}
	wg.Wait()
	if p.IsOnline("B") {
		t.Fatalf("sessions=%v", p.Sessions("B"))
	}
}

func TestRoomsJoinLeave(t *testing.T) {
	r := NewRooms()
	a := NewSession("a", "", 4)
	b := NewSession("b", "", 4)
	r.Join("c1", a)
	r.Join("c1", b)
	r.Join("c2", a)
	if r.Size("c1") != 2 || !a.InRoom("c2") {
		t.Fatalf("c1=%d", r.Size("c1"))
	}
	r.LeaveAll(a)
	if r.Size("c1") != 1 || r.Size("c2") != 0 || a.InRoom("c1") {
		t.Fatalf("after LeaveAll c1=%d c2=%d", r.Size("c1"), r.Size("c2"))
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	base := time.Unix(1_700_000_000, 0)
	if !rl.Allow(base) || !rl.Allow(base.Add(100*time.Millisecond)) {
		t.Fatal("first two events allowed")
	}
	if rl.Allow(base.Add(200 * time.Millisecond)) {
		t.Fatal("third event inside window must be denied")
	}
	if !rl.Allow(base.Add(1100 * time.Millisecond)) {
		t.Fatal("first event expired; should allow")
	}
}
