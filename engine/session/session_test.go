package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

func TestStoreCreatesAndReuses(t *testing.T) {
	st := NewStore()
	a := st.Get("alpha")
	b := st.Get("alpha")
	if a != b {
		t.Fatal("same id returned different sessions")
	}
	if st.Len() != 1 {
		t.Fatalf("len = %d, want 1", st.Len())
	}

	anon := st.Get("")
	if anon.ID() == "" {
		t.Fatal("empty id did not generate a session id")
	}
	if _, ok := st.Lookup(anon.ID()); !ok {
		t.Fatal("generated session not retrievable")
	}
}

func TestEndDiscardsContext(t *testing.T) {
	st := NewStore()
	s := st.Get("alpha")
	s.SelectRegion(domain.NamedRegions["bay of bengal"])
	st.End("alpha")

	if _, ok := st.Lookup("alpha"); ok {
		t.Fatal("ended session still present")
	}
	// A new session under the same id starts clean.
	if st.Get("alpha").Region() != nil {
		t.Fatal("region survived session end")
	}
}

func TestSelectRegionSupersedes(t *testing.T) {
	st := NewStore()
	s := st.Get("alpha")
	s.SelectRegion(domain.NamedRegions["bay of bengal"])
	s.SelectRegion(domain.NamedRegions["arabian sea"])
	if r := s.Region(); r == nil || r.Name != "Arabian Sea" {
		t.Fatalf("region = %+v, want Arabian Sea", r)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	st := NewStore()
	s := st.Get("alpha")
	s.SelectRegion(domain.NamedRegions["bay of bengal"])
	s.AppendTurn(Turn{Question: "q1", Answer: "a1", Mode: domain.ModeSpatial})

	snap := s.Snapshot()
	snap.Region.Name = "mutated"
	snap.Turns[0].Question = "mutated"

	if r := s.Region(); r.Name != "Bay of Bengal" {
		t.Errorf("session region mutated through snapshot: %s", r.Name)
	}
	if got := s.Snapshot().Turns[0].Question; got != "q1" {
		t.Errorf("session turn mutated through snapshot: %s", got)
	}
}

func TestTurnsAppendInOrder(t *testing.T) {
	st := NewStore()
	s := st.Get("alpha")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// The turn lock serializes the whole exchange; each goroutine
			// appends exactly one turn while holding it.
			s.Lock()
			defer s.Unlock()
			n := len(s.Snapshot().Turns)
			s.AppendTurn(Turn{Question: fmt.Sprintf("q%d", n)})
		}(i)
	}
	wg.Wait()

	turns := s.Snapshot().Turns
	if len(turns) != 20 {
		t.Fatalf("got %d turns, want 20", len(turns))
	}
	for i, turn := range turns {
		if turn.Question != fmt.Sprintf("q%d", i) {
			t.Fatalf("turn %d out of order: %s", i, turn.Question)
		}
	}
}
