package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_AddRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	c := NewConnection(newFakeConn("127.0.0.1:1001"))

	if err := r.Add(c); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := r.Add(c); !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("duplicate add must not grow the set, len=%d", r.Len())
	}
}

func TestRegistry_RemoveAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(newFakeConn("127.0.0.1:1001"))
	b := NewConnection(newFakeConn("127.0.0.1:1002"))

	if err := r.Add(a); err != nil {
		t.Fatal(err)
	}
	r.Remove(b)
	r.Remove(a)
	r.Remove(a)

	if r.Len() != 0 || r.Contains(a) {
		t.Fatalf("expected empty registry, len=%d", r.Len())
	}
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(newFakeConn("127.0.0.1:1001"))
	b := NewConnection(newFakeConn("127.0.0.1:1002"))
	_ = r.Add(a)
	_ = r.Add(b)

	snap := r.Snapshot()
	r.Remove(a)

	if len(snap) != 2 {
		t.Fatalf("snapshot changed after remove: %d entries", len(snap))
	}
	if got := r.Snapshot(); len(got) != 1 || got[0] != b {
		t.Fatalf("unexpected snapshot after remove: %v", got)
	}
}

// Stable members are present for the whole run; churners are added and
// removed concurrently. Every snapshot must hold all stable members, no
// duplicates, and nothing that was never added.
func TestRegistry_SnapshotsAreConsistentUnderChurn(t *testing.T) {
	r := NewRegistry()

	known := make(map[*Connection]bool)
	stable := make([]*Connection, 0, 4)
	for i := 0; i < 4; i++ {
		c := NewConnection(newFakeConn(fmt.Sprintf("127.0.0.1:%d", 2000+i)))
		stable = append(stable, c)
		known[c] = true
		if err := r.Add(c); err != nil {
			t.Fatal(err)
		}
	}

	const workers, rounds = 8, 200
	churn := make([][]*Connection, workers)
	for w := range churn {
		for i := 0; i < rounds; i++ {
			c := NewConnection(newFakeConn(fmt.Sprintf("127.0.0.1:%d", 3000+w*rounds+i)))
			churn[w] = append(churn[w], c)
			known[c] = true
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(conns []*Connection) {
			defer wg.Done()
			for _, c := range conns {
				if err := r.Add(c); err != nil {
					t.Errorf("add: %v", err)
					return
				}
				r.Remove(c)
			}
		}(churn[w])
	}

	errs := make(chan error, workers)
	for s := 0; s < workers; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				snap := r.Snapshot()
				seen := make(map[*Connection]bool, len(snap))
				for _, c := range snap {
					if seen[c] {
						errs <- fmt.Errorf("duplicate entry %s", c.Addr())
						return
					}
					if !known[c] {
						errs <- fmt.Errorf("unknown entry %s", c.Addr())
						return
					}
					seen[c] = true
				}
				for _, c := range stable {
					if !seen[c] {
						errs <- fmt.Errorf("stable entry %s missing", c.Addr())
						return
					}
				}
				if len(snap) > len(stable)+workers {
					errs <- fmt.Errorf("snapshot too large: %d", len(snap))
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if r.Len() != len(stable) {
		t.Fatalf("expected %d entries after churn, got %d", len(stable), r.Len())
	}
}
