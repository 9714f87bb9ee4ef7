// Package transcript folds the snapshot and live events of one session into
// an ordered, de-duplicated list of messages.
package transcript

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fakeyudi/pocketcode/internal/opencode"
)

// UntimedPolicy decides where parts without a creation timestamp sort.
type UntimedPolicy int

const (
	// UntimedFirst sorts untimed parts as time 0, ahead of every timed part.
	UntimedFirst UntimedPolicy = iota
	// UntimedLast sorts untimed parts after every timed part.
	UntimedLast
)

func (p UntimedPolicy) String() string {
	if p == UntimedLast {
		return "last"
	}
	return "first"
}

// ParseUntimedPolicy accepts "first" or "last" (case-insensitive). An empty
// string selects UntimedFirst.
func ParseUntimedPolicy(s string) (UntimedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return UntimedFirst, nil
	case "last":
		return UntimedLast, nil
	}
	return UntimedFirst, fmt.Errorf("unknown untimed part policy %q (want first or last)", s)
}

// entry is a message plus the order in which each of its parts was first
// seen. Ties on timestamp fall back to that order, so the result depends only
// on each part's latest value and first arrival.
type entry struct {
	msg     opencode.Message
	arrival map[string]uint64
}

// Reconciler holds the transcript of one session. It is not safe for
// concurrent use; the TUI update loop is its only caller.
type Reconciler struct {
	policy  UntimedPolicy
	entries []*entry
	index   map[string]int
	seq     uint64
	notify  chan struct{}
}

// New creates an empty reconciler.
func New(policy UntimedPolicy) *Reconciler {
	return &Reconciler{
		policy: policy,
		index:  make(map[string]int),
		notify: make(chan struct{}, 1),
	}
}

// Policy returns the untimed part policy in effect.
func (r *Reconciler) Policy() UntimedPolicy {
	return r.policy
}

// ContentArrived receives a value after one or more parts were applied.
// Signals coalesce: many updates between reads produce one value.
func (r *Reconciler) ContentArrived() <-chan struct{} {
	return r.notify
}

func (r *Reconciler) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// ApplySnapshot replaces the whole transcript. Messages keep the order the
// server returned; a duplicated id keeps its first position and its last
// content. A snapshot with any parts signals ContentArrived.
func (r *Reconciler) ApplySnapshot(msgs []opencode.Message) {
	r.entries = nil
	r.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if m.Info.ID == "" {
			continue
		}
		e, ok := r.lookup(m.Info.ID)
		if !ok {
			e = &entry{}
			r.index[m.Info.ID] = len(r.entries)
			r.entries = append(r.entries, e)
		}
		e.msg = opencode.Message{Info: m.Info}
		e.arrival = make(map[string]uint64, len(m.Parts))
		for _, p := range m.Parts {
			if p.ID == "" {
				continue
			}
			r.upsert(e, p)
		}
		r.sortParts(e)
	}
	for _, e := range r.entries {
		if len(e.msg.Parts) > 0 {
			r.signal()
			break
		}
	}
}

// ApplyMessageUpdated upserts message metadata. Existing parts are kept; an
// unknown id creates a message with no parts.
func (r *Reconciler) ApplyMessageUpdated(info opencode.MessageInfo) {
	if info.ID == "" {
		return
	}
	if e, ok := r.lookup(info.ID); ok {
		e.msg.Info = info
		return
	}
	r.index[info.ID] = len(r.entries)
	r.entries = append(r.entries, &entry{
		msg:     opencode.Message{Info: info},
		arrival: make(map[string]uint64),
	})
}

// ApplyPartUpdated upserts a part into its message and re-sorts that
// message's parts. It reports false, changing nothing, when the message is
// unknown or the part lacks an id.
func (r *Reconciler) ApplyPartUpdated(part opencode.Part) bool {
	if part.ID == "" {
		return false
	}
	e, ok := r.lookup(part.MessageID)
	if !ok {
		return false
	}
	r.upsert(e, part)
	r.sortParts(e)
	r.signal()
	return true
}

// Apply routes a stream event to the matching operation. It reports whether
// the transcript changed.
func (r *Reconciler) Apply(ev opencode.Event) bool {
	switch e := ev.(type) {
	case opencode.MessageUpdated:
		r.ApplyMessageUpdated(e.Info)
		return e.Info.ID != ""
	case opencode.PartUpdated:
		return r.ApplyPartUpdated(e.Part)
	}
	return false
}

func (r *Reconciler) lookup(id string) (*entry, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.entries[i], true
}

func (r *Reconciler) upsert(e *entry, part opencode.Part) {
	p := part.Clone()
	if _, seen := e.arrival[p.ID]; seen {
		for i := range e.msg.Parts {
			if e.msg.Parts[i].ID == p.ID {
				e.msg.Parts[i] = p
				return
			}
		}
	}
	r.seq++
	e.arrival[p.ID] = r.seq
	e.msg.Parts = append(e.msg.Parts, p)
}

// sortKey is the ordering timestamp of a part under the policy.
func (r *Reconciler) sortKey(p opencode.Part) int64 {
	if ts, ok := p.CreatedAt(); ok {
		return ts
	}
	if r.policy == UntimedLast {
		return math.MaxInt64
	}
	return 0
}

func (r *Reconciler) sortParts(e *entry) {
	parts := e.msg.Parts
	sort.SliceStable(parts, func(a, b int) bool {
		ka, kb := r.sortKey(parts[a]), r.sortKey(parts[b])
		if ka != kb {
			return ka < kb
		}
		return e.arrival[parts[a].ID] < e.arrival[parts[b].ID]
	})
}

// Len returns the number of messages.
func (r *Reconciler) Len() int {
	return len(r.entries)
}

// Messages returns a deep copy of the transcript.
func (r *Reconciler) Messages() []opencode.Message {
	out := make([]opencode.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg.Clone()
	}
	return out
}

// Message returns a copy of the message with the given id.
func (r *Reconciler) Message(id string) (opencode.Message, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return opencode.Message{}, false
	}
	return e.msg.Clone(), true
}

// Row is one renderable entry of the transcript: a part together with the
// metadata of the message it belongs to.
type Row struct {
	Message opencode.MessageInfo
	Part    opencode.Part
	// First is true for the first row of each message.
	First bool
}

// Rows flattens the transcript for rendering. A message with no parts yields
// a single loading row. Part kinds that are not rendered are skipped.
func (r *Reconciler) Rows() []Row {
	var rows []Row
	for _, e := range r.entries {
		m := e.msg
		if len(m.Parts) == 0 {
			rows = append(rows, Row{
				Message: m.Info,
				Part: opencode.Part{
					ID:        m.Info.ID + "-loading",
					MessageID: m.Info.ID,
					SessionID: m.Info.SessionID,
					Type:      opencode.PartLoading,
				},
				First: true,
			})
			continue
		}
		first := true
		for _, p := range m.Parts {
			if !p.Type.Renderable() {
				continue
			}
			rows = append(rows, Row{Message: m.Info, Part: p.Clone(), First: first})
			first = false
		}
	}
	return rows
}

// LastAssistantText returns the text of the newest assistant message, its
// text parts joined by blank lines.
func (r *Reconciler) LastAssistantText() (string, bool) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		m := r.entries[i].msg
		if m.Info.Role != opencode.RoleAssistant {
			continue
		}
		var texts []string
		for _, p := range m.Parts {
			if p.Type == opencode.PartText && strings.TrimSpace(p.Text) != "" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n\n"), true
		}
	}
	return "", false
}
