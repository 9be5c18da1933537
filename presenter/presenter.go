// Package presenter renders annotations into the client-facing JSON
// document shape used by notification payloads.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/hypothesis/h-sub005/streamer"
)

// Presenter builds annotation documents. ServiceURL, when set, is used to
// render permalinks.
type Presenter struct {
	ServiceURL string
}

// New creates a presenter.
func New(serviceURL string) *Presenter {
	return &Presenter{ServiceURL: strings.TrimSuffix(serviceURL, "/")}
}

// Present renders ann for the given viewer. The document shape matches
// the read API's annotation resource.
func (p *Presenter) Present(ann *streamer.Annotation, viewer streamer.Identity) (map[string]any, error) {
	doc := map[string]any{
		"id":          ann.ID,
		"user":        ann.UserID,
		"group":       ann.GroupID,
		"uri":         ann.TargetURI,
		"text":        ann.Text,
		"tags":        tagList(ann.Tags),
		"created":     ann.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated":     ann.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"hidden":      false,
		"permissions": permissions(ann),
	}

	if len(ann.References) > 0 {
		doc["references"] = ann.References
	}
	if p.ServiceURL != "" {
		doc["links"] = map[string]any{
			"html": fmt.Sprintf("%s/a/%s", p.ServiceURL, ann.ID),
		}
	}
	if viewer.Authenticated() {
		doc["user_info"] = map[string]any{
			"display_name": displayName(viewer.UserID),
		}
	}

	return doc, nil
}

// tagList never renders null for an untagged annotation.
func tagList(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func permissions(ann *streamer.Annotation) map[string]any {
	read := []string{ann.UserID}
	if ann.Shared {
		read = []string{"group:" + ann.GroupID}
	}
	return map[string]any{
		"read":   read,
		"admin":  []string{ann.UserID},
		"update": []string{ann.UserID},
		"delete": []string{ann.UserID},
	}
}

// displayName extracts the bare username from an acct:user@authority id.
func displayName(userID string) string {
	trimmed := strings.TrimPrefix(userID, "acct:")
	if name, _, ok := strings.Cut(trimmed, "@"); ok {
		return name
	}
	return trimmed
}
