package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hypothesis/h-sub005/streamer"
)

func TestPermits(t *testing.T) {
	author := streamer.Identity{UserID: "acct:author@example.com"}
	member := streamer.Identity{UserID: "acct:member@example.com", Groups: []string{"g1"}}
	outsider := streamer.Identity{UserID: "acct:outsider@example.com"}
	anonymous := streamer.Identity{}

	tests := []struct {
		name     string
		ann      *streamer.Annotation
		identity streamer.Identity
		want     bool
	}{
		{"world shared visible to anonymous", &streamer.Annotation{Shared: true, GroupID: WorldGroup}, anonymous, true},
		{"world shared visible to anyone", &streamer.Annotation{Shared: true, GroupID: WorldGroup}, outsider, true},
		{"group shared visible to member", &streamer.Annotation{Shared: true, GroupID: "g1"}, member, true},
		{"group shared hidden from outsider", &streamer.Annotation{Shared: true, GroupID: "g1"}, outsider, false},
		{"group shared hidden from anonymous", &streamer.Annotation{Shared: true, GroupID: "g1"}, anonymous, false},
		{"group shared visible to author", &streamer.Annotation{Shared: true, GroupID: "g1", UserID: author.UserID}, author, true},
		{"private visible to author", &streamer.Annotation{Shared: false, UserID: author.UserID}, author, true},
		{"private hidden from others", &streamer.Annotation{Shared: false, UserID: author.UserID}, member, false},
		{"private hidden from anonymous", &streamer.Annotation{Shared: false}, anonymous, false},
	}

	checker := NewChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.Permits(tt.identity, tt.ann))
		})
	}
}
