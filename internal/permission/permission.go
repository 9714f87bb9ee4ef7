// Package permission tracks the live permission requests of a session and
// matches them to the tool calls that raised them.
package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/fakeyudi/pocketcode/internal/opencode"
)

// ErrNoPendingPermission is returned by Respond when no live permission
// matches the call.
var ErrNoPendingPermission = errors.New("no pending permission for call")

// Response is the user's answer to a permission request.
type Response int

const (
	Accept Response = iota
	AcceptAlways
	Reject
)

// Value is the wire string the server expects.
func (r Response) Value() string {
	switch r {
	case Accept:
		return "once"
	case AcceptAlways:
		return "always"
	case Reject:
		return "reject"
	}
	panic(fmt.Sprintf("permission: unknown response %d", int(r)))
}

func (r Response) String() string {
	switch r {
	case Accept:
		return "accept"
	case AcceptAlways:
		return "accept always"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("Response(%d)", int(r))
}

// Responder delivers a response to the server. *opencode.Client satisfies it.
type Responder interface {
	RespondPermission(ctx context.Context, sessionID, permissionID, response string) error
}

// Set holds live permissions in arrival order. Like the transcript it is
// owned by the TUI update loop and is not safe for concurrent use.
type Set struct {
	live []opencode.Permission
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{}
}

// Upsert adds p or replaces the permission with the same id.
func (s *Set) Upsert(p opencode.Permission) {
	if p.ID == "" {
		return
	}
	for i := range s.live {
		if s.live[i].ID == p.ID {
			s.live[i] = p
			return
		}
	}
	s.live = append(s.live, p)
}

// Remove drops the permission with the given id. Unknown ids are ignored.
func (s *Set) Remove(id string) {
	for i := range s.live {
		if s.live[i].ID == id {
			s.live = append(s.live[:i], s.live[i+1:]...)
			return
		}
	}
}

// Live returns a copy of the live permissions.
func (s *Set) Live() []opencode.Permission {
	out := make([]opencode.Permission, len(s.live))
	copy(out, s.live)
	return out
}

// Len returns the number of live permissions.
func (s *Set) Len() int {
	return len(s.live)
}

// ByCall returns the live permission for a call id.
func (s *Set) ByCall(callID string) (opencode.Permission, bool) {
	if callID == "" {
		return opencode.Permission{}, false
	}
	for _, p := range s.live {
		if p.CallID == callID {
			return p, true
		}
	}
	return opencode.Permission{}, false
}

// Apply folds a stream event into the set and reports whether it changed.
func (s *Set) Apply(ev opencode.Event) bool {
	switch e := ev.(type) {
	case opencode.PermissionUpdated:
		s.Upsert(e.Permission)
		return e.Permission.ID != ""
	case opencode.PermissionReplied:
		n := len(s.live)
		s.Remove(e.PermissionID)
		return len(s.live) != n
	}
	return false
}

// Correlation is the permission state of one tool part.
type Correlation struct {
	RequiresPermission bool
	Permission         opencode.Permission
}

// Correlate matches part against live by exact call id. Parts without a call
// id never require permission.
func Correlate(live []opencode.Permission, part opencode.Part) Correlation {
	if part.CallID == "" {
		return Correlation{}
	}
	for _, p := range live {
		if p.CallID == part.CallID {
			return Correlation{RequiresPermission: true, Permission: p}
		}
	}
	return Correlation{}
}

// Correlate matches part against the set's live permissions.
func (s *Set) Correlate(part opencode.Part) Correlation {
	return Correlate(s.live, part)
}

// Respond answers the live permission for callID and, once the server has
// accepted the answer, removes it. If the permission was already removed in
// the meantime the removal is a no-op.
func (s *Set) Respond(ctx context.Context, r Responder, sessionID, callID string, resp Response) error {
	p, ok := s.ByCall(callID)
	if !ok {
		return fmt.Errorf("%w %q", ErrNoPendingPermission, callID)
	}
	if err := Send(ctx, r, sessionID, p, resp); err != nil {
		return err
	}
	s.Remove(p.ID)
	return nil
}

// Send delivers resp for p without touching any Set, so it can run off the
// update loop. The caller removes p once Send succeeds.
func Send(ctx context.Context, r Responder, sessionID string, p opencode.Permission, resp Response) error {
	if err := r.RespondPermission(ctx, sessionID, p.ID, resp.Value()); err != nil {
		return fmt.Errorf("%s permission %s: %w", resp, p.ID, err)
	}
	return nil
}

// MergedMetadata overlays the permission's metadata onto the tool's. The
// permission carries the proposed diff of an edit before the tool has run.
func MergedMetadata(tool map[string]any, c Correlation) map[string]any {
	if len(tool) == 0 && len(c.Permission.Metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(tool)+len(c.Permission.Metadata))
	for k, v := range tool {
		out[k] = v
	}
	if c.RequiresPermission {
		for k, v := range c.Permission.Metadata {
			out[k] = v
		}
	}
	return out
}
