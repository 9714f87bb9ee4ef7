package permission_test

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/permission"
)

type call struct {
	sessionID, permissionID, response string
}

// fakeResponder records calls and optionally fails or mutates the set
// mid-flight to simulate a server-side timeout.
type fakeResponder struct {
	calls  []call
	err    error
	during func()
}

func (f *fakeResponder) RespondPermission(_ context.Context, sessionID, permissionID, response string) error {
	f.calls = append(f.calls, call{sessionID, permissionID, response})
	if f.during != nil {
		f.during()
	}
	return f.err
}

func toolPart(callID string) opencode.Part {
	return opencode.Part{ID: "p", MessageID: "m", Type: opencode.PartTool, Tool: "edit", CallID: callID}
}

func TestRespondClearsRequirement(t *testing.T) {
	set := permission.NewSet()
	set.Upsert(opencode.Permission{ID: "1", SessionID: "s", CallID: "a"})

	part := toolPart("a")
	if c := set.Correlate(part); !c.RequiresPermission || c.Permission.ID != "1" {
		t.Fatalf("Correlate before respond = %+v, want requires permission 1", c)
	}

	fr := &fakeResponder{}
	if err := set.Respond(context.Background(), fr, "s", "a", permission.Accept); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(fr.calls) != 1 || fr.calls[0] != (call{"s", "1", "once"}) {
		t.Errorf("responder calls = %+v", fr.calls)
	}
	if c := set.Correlate(part); c.RequiresPermission {
		t.Errorf("Correlate after respond = %+v, want no permission", c)
	}
}

func TestRespondWithoutPermission(t *testing.T) {
	set := permission.NewSet()
	err := set.Respond(context.Background(), &fakeResponder{}, "s", "missing", permission.Reject)
	if !errors.Is(err, permission.ErrNoPendingPermission) {
		t.Errorf("Respond error = %v, want ErrNoPendingPermission", err)
	}
}

func TestRespondFailureKeepsPermission(t *testing.T) {
	set := permission.NewSet()
	set.Upsert(opencode.Permission{ID: "1", CallID: "a"})
	boom := errors.New("connection refused")

	err := set.Respond(context.Background(), &fakeResponder{err: boom}, "s", "a", permission.AcceptAlways)
	if !errors.Is(err, boom) {
		t.Fatalf("Respond error = %v, want wrapped %v", err, boom)
	}
	if set.Len() != 1 {
		t.Error("permission removed although the server rejected the response")
	}
}

func TestRespondAfterConcurrentRemoval(t *testing.T) {
	set := permission.NewSet()
	set.Upsert(opencode.Permission{ID: "1", CallID: "a"})
	set.Upsert(opencode.Permission{ID: "2", CallID: "b"})

	fr := &fakeResponder{during: func() { set.Remove("1") }}
	if err := set.Respond(context.Background(), fr, "s", "a", permission.Reject); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	live := set.Live()
	if len(live) != 1 || live[0].ID != "2" {
		t.Errorf("live = %+v, want only permission 2", live)
	}
}

func TestResponseValues(t *testing.T) {
	for r, want := range map[permission.Response]string{
		permission.Accept:       "once",
		permission.AcceptAlways: "always",
		permission.Reject:       "reject",
	} {
		if r.Value() != want {
			t.Errorf("%s.Value() = %q, want %q", r, r.Value(), want)
		}
	}
}

func TestApplyEvents(t *testing.T) {
	set := permission.NewSet()
	if !set.Apply(opencode.PermissionUpdated{Permission: opencode.Permission{ID: "1", CallID: "a", Title: "first"}}) {
		t.Fatal("PermissionUpdated should change the set")
	}
	set.Apply(opencode.PermissionUpdated{Permission: opencode.Permission{ID: "1", CallID: "a", Title: "second"}})
	if live := set.Live(); len(live) != 1 || live[0].Title != "second" {
		t.Errorf("upsert by id failed: %+v", live)
	}
	if !set.Apply(opencode.PermissionReplied{PermissionID: "1", Response: "once"}) {
		t.Error("PermissionReplied should remove the permission")
	}
	if set.Apply(opencode.PermissionReplied{PermissionID: "1"}) {
		t.Error("second PermissionReplied should be a no-op")
	}
}

func TestMergedMetadata(t *testing.T) {
	tool := map[string]any{"diff": "old", "filepath": "a.go"}
	c := permission.Correlation{
		RequiresPermission: true,
		Permission:         opencode.Permission{Metadata: map[string]any{"diff": "new"}},
	}
	got := permission.MergedMetadata(tool, c)
	if got["diff"] != "new" || got["filepath"] != "a.go" {
		t.Errorf("MergedMetadata = %v", got)
	}
	if tool["diff"] != "old" {
		t.Error("MergedMetadata mutated the tool metadata")
	}
	if got := permission.MergedMetadata(tool, permission.Correlation{}); got["diff"] != "old" {
		t.Errorf("uncorrelated merge = %v", got)
	}
}

// Feature: pocketcode, Property 5: Correlation is an exact call id match
func TestCorrelateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-d]{0,2}`), 0, 6, rapid.ID[string]).Draw(t, "call_ids")
		var live []opencode.Permission
		for i, id := range ids {
			live = append(live, opencode.Permission{ID: string(rune('A' + i)), CallID: id})
		}
		callID := rapid.StringMatching(`[a-d]{0,2}`).Draw(t, "part_call_id")

		c := permission.Correlate(live, toolPart(callID))

		want := false
		if callID != "" {
			for _, p := range live {
				if p.CallID == callID {
					want = true
				}
			}
		}
		if c.RequiresPermission != want {
			t.Fatalf("Correlate(%q) = %v, want %v", callID, c.RequiresPermission, want)
		}
		if want && c.Permission.CallID != callID {
			t.Fatalf("matched permission with call id %q", c.Permission.CallID)
		}
	})
}
