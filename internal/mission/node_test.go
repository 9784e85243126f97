package mission

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

func TestForcesSpawnOneNodePerPrototype(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	nodes := fx.force.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(nodes))
	}
	want := []string{"p-root", "p-door", "p-vault"}
	for i, n := range nodes {
		if n.PrototypeID != want[i] {
			t.Fatalf("node %d prototype = %s, want %s", i, n.PrototypeID, want[i])
		}
	}
	if fx.door.Parent() != fx.root {
		t.Fatal("expected door parent to be root")
	}

	blue, err := fx.mission.AddForce(ForceSpec{ID: "force-blue", Color: "#0000ff"})
	if err != nil {
		t.Fatalf("add force: %v", err)
	}
	if got := len(blue.Nodes()); got != 3 {
		t.Fatalf("blue nodes = %d, want 3", got)
	}
	if err := fx.mission.AddPrototype("p-side", "p-root"); err != nil {
		t.Fatalf("add prototype: %v", err)
	}
	if blue.NodeByPrototype("p-side") == nil || fx.force.NodeByPrototype("p-side") == nil {
		t.Fatal("expected new prototype spawned in every force")
	}
}

func TestAddPrototypeRejectsMissingParentAndDuplicates(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.mission.AddPrototype("p-x", "p-missing"); !apperrors.HasCode(err, apperrors.CodeMissingPrototype) {
		t.Fatalf("err = %v, want MISSING_PROTOTYPE", err)
	}
	if err := fx.mission.AddPrototype("p-door", ""); !apperrors.HasCode(err, apperrors.CodeDuplicateID) {
		t.Fatalf("err = %v, want DUPLICATE_ID", err)
	}
	if _, err := fx.mission.AddForce(ForceSpec{ID: "force-red"}); !apperrors.HasCode(err, apperrors.CodeDuplicateID) {
		t.Fatalf("err = %v, want DUPLICATE_ID", err)
	}
}

func TestRevealedFollowsParentOpened(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if !fx.root.Revealed() {
		t.Fatal("expected root revealed")
	}
	if fx.door.Revealed() {
		t.Fatal("expected door hidden before root opens")
	}
	if err := fx.root.Open(); err != nil {
		t.Fatalf("open root: %v", err)
	}
	if !fx.door.Revealed() {
		t.Fatal("expected door revealed after root opens")
	}
	if fx.vault.Revealed() {
		t.Fatal("expected vault hidden until door opens")
	}
	fx.root.Close()
	if fx.door.Revealed() {
		t.Fatal("expected door hidden after root closes")
	}
}

func TestRevealAllNodes(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.force.RevealAllNodes = true
	if !fx.vault.Revealed() {
		t.Fatal("expected vault revealed when force reveals all nodes")
	}
}

func TestOpenHiddenNode(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if fx.door.Revealed() {
		t.Fatal("expected door hidden while root is closed")
	}
	if !fx.door.Openable() {
		t.Fatal("expected hidden door to be openable")
	}
	if err := fx.door.Open(); err != nil {
		t.Fatalf("open hidden door: %v", err)
	}
	if !fx.door.Opened() || fx.door.Revealed() {
		t.Fatalf("door opened=%v revealed=%v, want opened and still hidden", fx.door.Opened(), fx.door.Revealed())
	}
	if !fx.vault.Revealed() {
		t.Fatal("expected vault revealed by its open parent")
	}
}

func TestOpenRequiresOpenable(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.revealVault(t)
	if err := fx.door.Open(); !apperrors.HasCode(err, apperrors.CodeNodeNotOpenable) {
		t.Fatalf("open twice err = %v, want NODE_NOT_OPENABLE", err)
	}
	if err := fx.vault.Open(); !apperrors.HasCode(err, apperrors.CodeNodeNotOpenable) {
		t.Fatalf("open executable err = %v, want NODE_NOT_OPENABLE", err)
	}
	if !apperrors.IsCategory(fx.vault.Open(), apperrors.CategoryPrecondition) {
		t.Fatal("expected precondition category")
	}
}

func TestOpenPublishesOpenedAndRevealed(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	var got []NodeEvent
	unsubscribe := fx.mission.NodeEvents().Subscribe(func(evt NodeEvent) { got = append(got, evt) })
	defer unsubscribe()

	before := fx.mission.StructureVersion()
	if err := fx.root.Open(); err != nil {
		t.Fatalf("open root: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Kind != NodeOpened || got[0].Node != fx.root {
		t.Fatalf("first event = %+v, want root opened", got[0])
	}
	if got[1].Kind != NodeRevealed || got[1].Node != fx.door {
		t.Fatalf("second event = %+v, want door revealed", got[1])
	}
	if got[0].StructureVersion != before+1 {
		t.Fatalf("structure version = %d, want %d", got[0].StructureVersion, before+1)
	}
}

func TestCloseAbortsDescendantExecutionsFirst(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.revealVault(t)

	exec, err := fx.vault.Execute("hack", Cheats{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var order []string
	fx.mission.ExecutionEvents().Subscribe(func(evt ExecutionEvent) { order = append(order, string(evt.Kind)) })
	fx.mission.NodeEvents().Subscribe(func(evt NodeEvent) { order = append(order, string(evt.Kind)) })

	fx.clock.Advance(time.Second)
	fx.root.Close()

	if exec.Status() != StatusAborted {
		t.Fatalf("status = %s, want aborted", exec.Status())
	}
	if fx.vault.Executing() {
		t.Fatal("expected vault not executing after close")
	}
	if len(order) != 2 || order[0] != string(ExecutionAborted) || order[1] != string(NodeClosed) {
		t.Fatalf("events = %v, want [execution-aborted node-closed]", order)
	}
	if fx.root.Opened() {
		t.Fatal("expected root closed")
	}
	if fx.clock.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", fx.clock.Pending())
	}
}

func TestBlockClosesAndPreventsOpenAndExecute(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.revealVault(t)

	fx.door.Block()
	if !fx.door.Blocked() || fx.door.Opened() {
		t.Fatal("expected door blocked and closed")
	}
	if fx.door.Openable() {
		t.Fatal("expected blocked door not openable")
	}
	fx.vault.Block()
	if fx.vault.ReadyToExecute() {
		t.Fatal("expected blocked vault not ready")
	}

	fx.door.Unblock()
	if fx.door.Blocked() {
		t.Fatal("expected door unblocked")
	}
	if err := fx.door.Open(); err != nil {
		t.Fatalf("open unblocked door: %v", err)
	}
}

func TestReadyToExecute(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if fx.door.ReadyToExecute() {
		t.Fatal("expected non-executable door not ready")
	}
	if !fx.vault.ReadyToExecute() {
		t.Fatal("expected vault ready")
	}
	fx.vault.Executable = false
	if fx.vault.ReadyToExecute() {
		t.Fatal("expected non-executable vault not ready")
	}
}

func TestExecuteRequiresRevealedNode(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if _, err := fx.vault.Execute("hack", Cheats{}); !apperrors.HasCode(err, apperrors.CodeNodeNotReady) {
		t.Fatalf("err = %v, want NODE_NOT_READY", err)
	}
	fx.revealVault(t)
	if _, err := fx.vault.Execute("missing", Cheats{}); !apperrors.HasCode(err, apperrors.CodeActionNotFound) {
		t.Fatalf("err = %v, want ACTION_NOT_FOUND", err)
	}
}

func TestGhostKeepsOnlyIdentity(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.vault.Exclude = true
	fx.vault.Name = "Vault"

	ghost := fx.vault.Ghost()
	if ghost == fx.vault {
		t.Fatal("expected a new node")
	}
	if ghost.ID != fx.vault.ID || ghost.PrototypeID != "p-vault" || !ghost.Exclude {
		t.Fatalf("ghost = %+v, want identity preserved", ghost)
	}
	if ghost.Name != "" || ghost.Executable || len(ghost.Actions()) != 0 {
		t.Fatalf("ghost = %+v, want defaults", ghost)
	}
	if len(fx.vault.Actions()) != 1 {
		t.Fatal("expected original node untouched")
	}
}

func TestAddActionRejectsIDsUsedElsewhereInMission(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	blue, err := fx.mission.AddForce(ForceSpec{ID: "force-blue", Color: "#0000ff"})
	if err != nil {
		t.Fatalf("add force: %v", err)
	}
	vault := blue.NodeByPrototype("p-vault")
	vault.Executable = true
	_, err = vault.AddAction(ActionSpec{ID: "hack", SuccessChance: 1, ProcessTime: time.Second})
	if !apperrors.HasCode(err, apperrors.CodeDuplicateID) {
		t.Fatalf("err = %v, want DUPLICATE_ID", err)
	}
	if got := fx.mission.Action("hack"); got != fx.hack {
		t.Fatal("expected mission lookup to keep resolving the red hack action")
	}
	if _, err := vault.AddAction(ActionSpec{ID: "hack-blue", SuccessChance: 1, ProcessTime: time.Second}); err != nil {
		t.Fatalf("add action: %v", err)
	}
}
