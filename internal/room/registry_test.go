package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type recordingConn struct {
	mu       sync.Mutex
	received []string
	fail     bool
}

func (c *recordingConn) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken transport")
	}
	c.received = append(c.received, string(payload))
	return nil
}

func (c *recordingConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.received...)
}

type panickingConn struct{}

func (panickingConn) Deliver([]byte) error { panic("closed channel") }

func joinedMsg(name string) []byte { return []byte("joined:" + name) }

func leftMsg(name string) []byte { return []byte("left:" + name) }

func TestJoinCreatesRoomAndEchoesToSelf(t *testing.T) {
	reg := NewRegistry()
	alice := &recordingConn{}

	if reg.HasRoom("T") {
		t.Fatal("room exists before any join")
	}

	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: alice}, joinedMsg("Alice"))

	if !reg.HasRoom("T") {
		t.Fatal("room missing after join")
	}
	if got := alice.messages(); len(got) != 1 || got[0] != "joined:Alice" {
		t.Errorf("Alice received %v, want her own join announcement", got)
	}
}

func TestSecondJoinReachesBothMembers(t *testing.T) {
	reg := NewRegistry()
	alice := &recordingConn{}
	bob := &recordingConn{}

	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: alice}, joinedMsg("Alice"))
	reg.Join("T", Member{ConnID: "c2", DisplayName: "Bob", Conn: bob}, joinedMsg("Bob"))

	if got := alice.messages(); len(got) != 2 || got[1] != "joined:Bob" {
		t.Errorf("Alice received %v, want Bob's join second", got)
	}
	if got := bob.messages(); len(got) != 1 || got[0] != "joined:Bob" {
		t.Errorf("Bob received %v, want only his own join", got)
	}

	members := reg.Members("T")
	if len(members) != 2 || members[0].ConnID != "c1" || members[1].ConnID != "c2" {
		t.Errorf("members = %+v, want c1 then c2 in join order", members)
	}
}

func TestRepeatedJoinIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	conn := &recordingConn{}

	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: conn}, joinedMsg("Alice"))
	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alicia", Conn: conn}, joinedMsg("Alicia"))

	if n := len(reg.Members("T")); n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}
	if name, _ := reg.DisplayName("T", "c1"); name != "Alicia" {
		t.Errorf("display name = %q, want refreshed name", name)
	}
	if got := conn.messages(); len(got) != 1 {
		t.Errorf("repeated join announced again: %v", got)
	}
}

func TestSharedDisplayNamesAreDistinctMembers(t *testing.T) {
	reg := NewRegistry()
	reg.Join("T", Member{ConnID: "c1", DisplayName: "Sam", Conn: &recordingConn{}}, joinedMsg("Sam"))
	reg.Join("T", Member{ConnID: "c2", DisplayName: "Sam", Conn: &recordingConn{}}, joinedMsg("Sam"))

	reg.Leave("T", "c1", leftMsg)

	members := reg.Members("T")
	if len(members) != 1 || members[0].ConnID != "c2" {
		t.Errorf("members = %+v, want only c2", members)
	}
}

func TestLeaveAnnouncesToRemainingMembers(t *testing.T) {
	reg := NewRegistry()
	alice := &recordingConn{}
	bob := &recordingConn{}

	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: alice}, joinedMsg("Alice"))
	reg.Join("T", Member{ConnID: "c2", DisplayName: "Bob", Conn: bob}, joinedMsg("Bob"))

	if !reg.Leave("T", "c2", leftMsg) {
		t.Fatal("Leave reported member not found")
	}

	got := alice.messages()
	if len(got) != 3 || got[2] != "left:Bob" {
		t.Errorf("Alice received %v, want Bob's departure last", got)
	}
	if n := len(bob.messages()); n != 1 {
		t.Errorf("departed member received %d messages, want 1", n)
	}
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	reg := NewRegistry()
	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: &recordingConn{}}, joinedMsg("Alice"))

	reg.Leave("T", "c1", leftMsg)

	if reg.HasRoom("T") {
		t.Fatal("room still exists after last member left")
	}
	if n := reg.Broadcast("T", []byte("ignored")); n != 0 {
		t.Errorf("broadcast to deleted room delivered to %d members", n)
	}

	conn := &recordingConn{}
	reg.Join("T", Member{ConnID: "c3", DisplayName: "Carol", Conn: conn}, joinedMsg("Carol"))
	if !reg.HasRoom("T") {
		t.Fatal("join did not recreate the room")
	}
	if got := conn.messages(); len(got) != 1 {
		t.Errorf("new member received %v, want only their join", got)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: &recordingConn{}}, joinedMsg("Alice"))
	reg.Join("T", Member{ConnID: "c2", DisplayName: "Bob", Conn: &recordingConn{}}, joinedMsg("Bob"))

	if !reg.Leave("T", "c1", leftMsg) {
		t.Fatal("first leave should find the member")
	}
	if reg.Leave("T", "c1", leftMsg) {
		t.Error("second leave should be a no-op")
	}
	if reg.Leave("missing", "c1", leftMsg) {
		t.Error("leave on unknown room should be a no-op")
	}
	if n := len(reg.Members("T")); n != 1 {
		t.Errorf("members = %d, want 1", n)
	}
}

func TestDisplayNameLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Join("T", Member{ConnID: "c1", DisplayName: "Alice", Conn: &recordingConn{}}, joinedMsg("Alice"))

	if name, ok := reg.DisplayName("T", "c1"); !ok || name != "Alice" {
		t.Errorf("DisplayName(c1) = %q, %v", name, ok)
	}
	if _, ok := reg.DisplayName("T", "c9"); ok {
		t.Error("DisplayName found a connection that never joined")
	}
	if _, ok := reg.DisplayName("other", "c1"); ok {
		t.Error("DisplayName found a connection in the wrong room")
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	reg := NewRegistry()
	good1 := &recordingConn{}
	broken := &recordingConn{fail: true}
	good2 := &recordingConn{}

	reg.Join("T", Member{ConnID: "c1", DisplayName: "A", Conn: good1}, nil)
	reg.Join("T", Member{ConnID: "c2", DisplayName: "B", Conn: broken}, nil)
	reg.Join("T", Member{ConnID: "c3", DisplayName: "C", Conn: panickingConn{}}, nil)
	reg.Join("T", Member{ConnID: "c4", DisplayName: "D", Conn: good2}, nil)

	if n := reg.Broadcast("T", []byte("update")); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	for i, c := range []*recordingConn{good1, good2} {
		if got := c.messages(); len(got) != 1 || got[0] != "update" {
			t.Errorf("healthy member %d received %v", i, got)
		}
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	reg := NewRegistry()
	a := &recordingConn{}
	b := &recordingConn{}
	reg.Join("A", Member{ConnID: "c1", DisplayName: "A", Conn: a}, nil)
	reg.Join("B", Member{ConnID: "c2", DisplayName: "B", Conn: b}, nil)

	reg.Broadcast("A", []byte("only-a"))

	if len(b.messages()) != 0 {
		t.Error("broadcast leaked into another room")
	}
	if reg.RoomCount() != 2 {
		t.Errorf("RoomCount = %d, want 2", reg.RoomCount())
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry()
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", id)
			for j := 0; j < 50; j++ {
				reg.Join("T", Member{ConnID: connID, DisplayName: connID, Conn: &recordingConn{}}, joinedMsg(connID))
				reg.Broadcast("T", []byte("tick"))
				reg.Leave("T", connID, leftMsg)
			}
		}(i)
	}
	wg.Wait()

	if reg.HasRoom("T") {
		t.Errorf("room survived with members %+v", reg.Members("T"))
	}
	if reg.RoomCount() != 0 {
		t.Errorf("RoomCount = %d, want 0", reg.RoomCount())
	}
}
