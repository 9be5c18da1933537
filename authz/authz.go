// Package authz is the default realtime-read permission checker. Shared
// annotations in the public group are world-readable, shared annotations
// in other groups require membership, and private annotations are
// visible only to their author.
package authz

import "github.com/hypothesis/h-sub005/streamer"

// WorldGroup is the public group every viewer implicitly belongs to.
const WorldGroup = "__world__"

// Checker implements streamer.PermissionChecker.
type Checker struct{}

// NewChecker creates the default permission checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Permits reports whether identity may receive realtime updates for ann.
func (c *Checker) Permits(identity streamer.Identity, ann *streamer.Annotation) bool {
	if !ann.Shared {
		return identity.Authenticated() && identity.UserID == ann.UserID
	}
	if ann.GroupID == WorldGroup {
		return true
	}
	for _, g := range identity.Groups {
		if g == ann.GroupID {
			return true
		}
	}
	// Authors keep access to their own shared annotations even after
	// leaving the group.
	return identity.Authenticated() && identity.UserID == ann.UserID
}
