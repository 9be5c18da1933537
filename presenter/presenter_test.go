package presenter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypothesis/h-sub005/streamer"
)

func testAnnotation() *streamer.Annotation {
	return &streamer.Annotation{
		ID:        "ann1",
		UserID:    "acct:alice@example.com",
		GroupID:   "g1",
		TargetURI: "https://example.com/doc",
		Text:      "a note",
		Tags:      []string{"tag1"},
		Shared:    true,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestPresent(t *testing.T) {
	p := New("https://example.com")

	doc, err := p.Present(testAnnotation(), streamer.Identity{})
	require.NoError(t, err)

	assert.Equal(t, "ann1", doc["id"])
	assert.Equal(t, "acct:alice@example.com", doc["user"])
	assert.Equal(t, "g1", doc["group"])
	assert.Equal(t, "https://example.com/doc", doc["uri"])
	assert.Equal(t, "2024-03-01T12:00:00Z", doc["created"])
	assert.Equal(t, map[string]any{"html": "https://example.com/a/ann1"}, doc["links"])
	assert.NotContains(t, doc, "references")
	assert.NotContains(t, doc, "user_info")

	perms := doc["permissions"].(map[string]any)
	assert.Equal(t, []string{"group:g1"}, perms["read"])
}

func TestPresentPrivateReadPermission(t *testing.T) {
	ann := testAnnotation()
	ann.Shared = false

	doc, err := New("").Present(ann, streamer.Identity{})
	require.NoError(t, err)

	perms := doc["permissions"].(map[string]any)
	assert.Equal(t, []string{"acct:alice@example.com"}, perms["read"])
	assert.NotContains(t, doc, "links")
}

func TestPresentReferences(t *testing.T) {
	ann := testAnnotation()
	ann.References = []string{"parent1"}

	doc, err := New("").Present(ann, streamer.Identity{})
	require.NoError(t, err)

	assert.Equal(t, []string{"parent1"}, doc["references"])
}

func TestPresentEmptyTagsNotNull(t *testing.T) {
	ann := testAnnotation()
	ann.Tags = nil

	doc, err := New("").Present(ann, streamer.Identity{})
	require.NoError(t, err)

	assert.Equal(t, []string{}, doc["tags"])
}

func TestPresentViewerInfo(t *testing.T) {
	doc, err := New("").Present(testAnnotation(), streamer.Identity{UserID: "acct:bob@example.com"})
	require.NoError(t, err)

	info := doc["user_info"].(map[string]any)
	assert.Equal(t, "bob", info["display_name"])
}
