package mission

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/metis/internal/clock"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func sequentialIDs(prefix string) func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

type fixture struct {
	mission *Mission
	clock   *clock.Fake
	logs    *bytes.Buffer
	force   *Force
	root    *Node
	door    *Node
	vault   *Node
	hack    *Action
}

// newFixture builds root -> door -> vault, where vault is executable with
// a 5s "hack" action costing 10 out of a pool of 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clock.NewFake(t0)
	logs := &bytes.Buffer{}
	m := New("mission-1", "Heist", 42, Options{
		Clock:  fc,
		Logger: slog.New(slog.NewTextHandler(logs, nil)),
		NewID:  sequentialIDs("id"),
	})
	for _, p := range []Prototype{{ID: "p-root"}, {ID: "p-door", ParentID: "p-root"}, {ID: "p-vault", ParentID: "p-door"}} {
		if err := m.AddPrototype(p.ID, p.ParentID); err != nil {
			t.Fatalf("add prototype %s: %v", p.ID, err)
		}
	}
	f, err := m.AddForce(ForceSpec{ID: "force-red", Name: "Red", Color: "#ff0000", InitialResources: 100})
	if err != nil {
		t.Fatalf("add force: %v", err)
	}
	vault := f.NodeByPrototype("p-vault")
	vault.Executable = true
	hack, err := vault.AddAction(ActionSpec{
		ID:            "hack",
		Name:          "Hack",
		SuccessChance: 0.5,
		ProcessTime:   5 * time.Second,
		ResourceCost:  10,
		OpensNode:     true,
	})
	if err != nil {
		t.Fatalf("add action: %v", err)
	}
	return &fixture{
		mission: m,
		clock:   fc,
		logs:    logs,
		force:   f,
		root:    f.NodeByPrototype("p-root"),
		door:    f.NodeByPrototype("p-door"),
		vault:   vault,
		hack:    hack,
	}
}

// revealVault opens the path down to the vault.
func (fx *fixture) revealVault(t *testing.T) {
	t.Helper()
	if err := fx.root.Open(); err != nil {
		t.Fatalf("open root: %v", err)
	}
	if err := fx.door.Open(); err != nil {
		t.Fatalf("open door: %v", err)
	}
}
