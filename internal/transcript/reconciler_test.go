package transcript_test

import (
	"fmt"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/transcript"
)

func info(id string) opencode.MessageInfo {
	return opencode.MessageInfo{ID: id, SessionID: "ses", Role: opencode.RoleAssistant, Time: opencode.MessageTime{Created: 1}}
}

func timedPart(msgID, id string, created int64) opencode.Part {
	return opencode.Part{
		ID:        id,
		MessageID: msgID,
		Type:      opencode.PartText,
		Text:      id,
		Time:      &opencode.PartTime{Created: created},
	}
}

func untimedPart(msgID, id string) opencode.Part {
	return opencode.Part{ID: id, MessageID: msgID, Type: opencode.PartText, Text: id}
}

func partIDs(m opencode.Message) []string {
	ids := make([]string, len(m.Parts))
	for i, p := range m.Parts {
		ids[i] = p.ID
	}
	return ids
}

// genEvent draws a message or part update over a small id space so that
// upserts collide often.
func genEvent(t *rapid.T, label string) opencode.Event {
	msgID := fmt.Sprintf("m%d", rapid.IntRange(0, 2).Draw(t, label+"_msg"))
	if rapid.Bool().Draw(t, label+"_is_msg") {
		mi := info(msgID)
		mi.ModelID = rapid.SampledFrom([]string{"", "a", "b"}).Draw(t, label+"_model")
		return opencode.MessageUpdated{Info: mi}
	}
	p := opencode.Part{
		ID:        fmt.Sprintf("p%d", rapid.IntRange(0, 4).Draw(t, label+"_part")),
		MessageID: msgID,
		Type:      rapid.SampledFrom([]opencode.PartType{opencode.PartText, opencode.PartReasoning, opencode.PartTool}).Draw(t, label+"_type"),
		Text:      rapid.StringN(0, 8, -1).Draw(t, label+"_text"),
	}
	switch rapid.IntRange(0, 2).Draw(t, label+"_time") {
	case 1:
		p.Time = &opencode.PartTime{Created: rapid.Int64Range(1, 50).Draw(t, label+"_created")}
	case 2:
		p.Time = &opencode.PartTime{
			Created: rapid.Int64Range(1, 50).Draw(t, label+"_created"),
			Start:   rapid.Int64Range(1, 50).Draw(t, label+"_start"),
		}
	}
	return opencode.PartUpdated{Part: p}
}

// Feature: pocketcode, Property 1: Replaying an event sequence is idempotent
func TestReplayIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := rapid.SampledFrom([]transcript.UntimedPolicy{transcript.UntimedFirst, transcript.UntimedLast}).Draw(t, "policy")
		drawn := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) opencode.Event {
			return genEvent(t, "ev")
		}), 0, 40).Draw(t, "events")

		// Parts only ever follow their message's first update on the wire.
		announced := map[string]bool{}
		var events []opencode.Event
		for _, ev := range drawn {
			switch e := ev.(type) {
			case opencode.MessageUpdated:
				announced[e.Info.ID] = true
			case opencode.PartUpdated:
				if !announced[e.Part.MessageID] {
					continue
				}
			}
			events = append(events, ev)
		}

		once := transcript.New(policy)
		for _, ev := range events {
			once.Apply(ev)
		}

		twice := transcript.New(policy)
		for range 2 {
			for _, ev := range events {
				twice.Apply(ev)
			}
		}

		if !reflect.DeepEqual(once.Messages(), twice.Messages()) {
			t.Fatalf("replay changed state:\nonce:  %+v\ntwice: %+v", once.Messages(), twice.Messages())
		}
	})
}

// Feature: pocketcode, Property 2: Parts for unknown messages leave the transcript unchanged
func TestPartForUnknownMessageIsNoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := transcript.New(transcript.UntimedFirst)
		for _, ev := range rapid.SliceOfN(rapid.Custom(func(t *rapid.T) opencode.Event {
			return genEvent(t, "ev")
		}), 0, 20).Draw(t, "events") {
			r.Apply(ev)
		}
		before := r.Messages()

		p := timedPart("unknown", rapid.StringN(1, 5, -1).Draw(t, "id"), rapid.Int64Range(1, 100).Draw(t, "ts"))
		if r.ApplyPartUpdated(p) {
			t.Fatal("ApplyPartUpdated reported a change for an unknown message")
		}
		if !reflect.DeepEqual(before, r.Messages()) {
			t.Fatal("transcript changed after part for unknown message")
		}
	})
}

// Feature: pocketcode, Property 3: Timed parts render in ascending creation order
func TestTimedPartsAscending(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := transcript.New(transcript.UntimedFirst)
		r.ApplyMessageUpdated(info("m"))
		stamps := rapid.SliceOfN(rapid.Int64Range(1, 1000), 1, 20).Draw(t, "stamps")
		for i, ts := range stamps {
			p := timedPart("m", fmt.Sprintf("p%d", i), ts)
			// start times run against creation order and must not affect it
			p.Time.Start = 2000 - ts
			r.ApplyPartUpdated(p)
		}
		m, _ := r.Message("m")
		for i := 1; i < len(m.Parts); i++ {
			prev, _ := m.Parts[i-1].CreatedAt()
			cur, _ := m.Parts[i].CreatedAt()
			if prev > cur {
				t.Fatalf("parts out of order at %d: %d > %d", i, prev, cur)
			}
		}
	})
}

func TestOutOfOrderArrival(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("m"))
	r.ApplyPartUpdated(timedPart("m", "c", 30))
	r.ApplyPartUpdated(timedPart("m", "a", 10))
	r.ApplyPartUpdated(timedPart("m", "b", 20))

	m, ok := r.Message("m")
	if !ok {
		t.Fatal("message m missing")
	}
	if got, want := partIDs(m), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestUntimedPolicy(t *testing.T) {
	tests := []struct {
		policy transcript.UntimedPolicy
		want   []string
	}{
		{transcript.UntimedFirst, []string{"u1", "u2", "t1", "t2"}},
		{transcript.UntimedLast, []string{"t1", "t2", "u1", "u2"}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			r := transcript.New(tt.policy)
			r.ApplyMessageUpdated(info("m"))
			r.ApplyPartUpdated(timedPart("m", "t2", 20))
			r.ApplyPartUpdated(untimedPart("m", "u1"))
			r.ApplyPartUpdated(timedPart("m", "t1", 10))
			r.ApplyPartUpdated(untimedPart("m", "u2"))

			m, _ := r.Message("m")
			if got := partIDs(m); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartTimeIsNotCreationTime(t *testing.T) {
	started := func(id string, start int64) opencode.Part {
		p := untimedPart("m", id)
		p.Time = &opencode.PartTime{Start: start}
		return p
	}
	tool := func(id string) opencode.Part {
		p := untimedPart("m", id)
		p.Type = opencode.PartTool
		p.Tool = "bash"
		return p
	}

	for _, policy := range []transcript.UntimedPolicy{transcript.UntimedFirst, transcript.UntimedLast} {
		t.Run(policy.String(), func(t *testing.T) {
			r := transcript.New(policy)
			r.ApplyMessageUpdated(info("m"))
			r.ApplyPartUpdated(started("text1", 100))
			r.ApplyPartUpdated(tool("tool1"))
			r.ApplyPartUpdated(started("text2", 300))
			r.ApplyPartUpdated(tool("tool2"))
			// a later update of an earlier part keeps its place
			r.ApplyPartUpdated(started("text1", 100))

			m, _ := r.Message("m")
			if got, want := partIDs(m), []string{"text1", "tool1", "text2", "tool2"}; !reflect.DeepEqual(got, want) {
				t.Errorf("order = %v, want %v", got, want)
			}
		})
	}
}

func TestParseUntimedPolicy(t *testing.T) {
	for in, want := range map[string]transcript.UntimedPolicy{"": transcript.UntimedFirst, "First": transcript.UntimedFirst, "last": transcript.UntimedLast} {
		got, err := transcript.ParseUntimedPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseUntimedPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := transcript.ParseUntimedPolicy("middle"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestMessageUpdatedKeepsParts(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("m"))
	r.ApplyPartUpdated(timedPart("m", "p", 1))

	updated := info("m")
	updated.ModelID = "gpt"
	r.ApplyMessageUpdated(updated)

	m, _ := r.Message("m")
	if m.Info.ModelID != "gpt" {
		t.Errorf("info not replaced: %+v", m.Info)
	}
	if len(m.Parts) != 1 {
		t.Errorf("parts lost on message update: %v", partIDs(m))
	}
}

func TestPartUpsertReplacesInPlace(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("m"))
	r.ApplyPartUpdated(timedPart("m", "p", 1))
	p := timedPart("m", "p", 1)
	p.Text = "streamed more"
	r.ApplyPartUpdated(p)

	m, _ := r.Message("m")
	if len(m.Parts) != 1 || m.Parts[0].Text != "streamed more" {
		t.Errorf("unexpected parts: %+v", m.Parts)
	}
}

func TestMessagesIsDeepCopy(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("m"))
	p := timedPart("m", "p", 1)
	p.Type = opencode.PartTool
	p.State.Input = map[string]any{"command": "ls"}
	r.ApplyPartUpdated(p)

	msgs := r.Messages()
	msgs[0].Parts[0].State.Input["command"] = "rm -rf /"
	msgs[0].Parts[0].Time.Created = 99

	m, _ := r.Message("m")
	if m.Parts[0].State.Input["command"] != "ls" || m.Parts[0].Time.Created != 1 {
		t.Errorf("Messages leaked internal state: %+v", m.Parts[0])
	}
}

func TestSnapshotSortsAndDedupes(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("stale"))
	r.ApplySnapshot([]opencode.Message{
		{Info: info("m1"), Parts: []opencode.Part{timedPart("m1", "b", 2), timedPart("m1", "a", 1), timedPart("m1", "b", 3)}},
		{Info: info("m2")},
	})

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if _, ok := r.Message("stale"); ok {
		t.Error("snapshot did not replace previous transcript")
	}
	m1, _ := r.Message("m1")
	if got := partIDs(m1); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("m1 parts = %v, want [a b]", got)
	}
	if ts, _ := m1.Parts[1].CreatedAt(); ts != 3 {
		t.Errorf("duplicate part kept stale value %d", ts)
	}
}

func TestSnapshotSignalsContent(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplySnapshot([]opencode.Message{{Info: info("m1")}})
	select {
	case <-r.ContentArrived():
		t.Fatal("snapshot without parts signalled content")
	default:
	}

	r.ApplySnapshot([]opencode.Message{{Info: info("m1"), Parts: []opencode.Part{timedPart("m1", "a", 1)}}})
	select {
	case <-r.ContentArrived():
	default:
		t.Fatal("snapshot with parts did not signal content")
	}
}

func TestRowsLoadingPlaceholder(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("m1"))
	r.ApplyMessageUpdated(info("m2"))
	r.ApplyPartUpdated(timedPart("m2", "p1", 1))
	r.ApplyPartUpdated(opencode.Part{ID: "s", MessageID: "m2", Type: "step-start", Time: &opencode.PartTime{Created: 2}})
	r.ApplyPartUpdated(timedPart("m2", "p2", 3))

	rows := r.Rows()
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3: %+v", len(rows), rows)
	}
	if rows[0].Part.Type != opencode.PartLoading || !rows[0].First || rows[0].Message.ID != "m1" {
		t.Errorf("row 0 = %+v, want loading placeholder for m1", rows[0])
	}
	if rows[1].Part.ID != "p1" || !rows[1].First {
		t.Errorf("row 1 = %+v", rows[1])
	}
	if rows[2].Part.ID != "p2" || rows[2].First {
		t.Errorf("row 2 = %+v", rows[2])
	}
}

func TestContentArrivedCoalesces(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplyMessageUpdated(info("m"))

	select {
	case <-r.ContentArrived():
		t.Fatal("message metadata alone should not signal content")
	default:
	}

	for i := range 5 {
		r.ApplyPartUpdated(timedPart("m", fmt.Sprintf("p%d", i), int64(i+1)))
	}
	select {
	case <-r.ContentArrived():
	default:
		t.Fatal("expected a content signal")
	}
	select {
	case <-r.ContentArrived():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestLastAssistantText(t *testing.T) {
	r := transcript.New(transcript.UntimedFirst)
	if _, ok := r.LastAssistantText(); ok {
		t.Fatal("empty transcript has no assistant text")
	}
	r.ApplyMessageUpdated(info("a1"))
	r.ApplyPartUpdated(timedPart("a1", "x", 1))
	user := info("u1")
	user.Role = opencode.RoleUser
	r.ApplyMessageUpdated(user)
	r.ApplyPartUpdated(timedPart("u1", "question", 2))

	got, ok := r.LastAssistantText()
	if !ok || got != "x" {
		t.Errorf("LastAssistantText = %q, %v; want x, true", got, ok)
	}
}
