package rag

import (
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_StableUUID(t *testing.T) {
	t.Parallel()

	a := pointID("doc-1-chunk-0")
	b := pointID("doc-1-chunk-0")
	c := pointID("doc-1-chunk-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestBuildPoints_Payload(t *testing.T) {
	t.Parallel()

	points := buildPoints([]EmbeddedChunk{record("doc-1", "alice", 3, "hello", 0.1, 0.2)})
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, pointID("doc-1-chunk-3"), p.GetId().GetUuid())
	assert.Equal(t, "doc-1-chunk-3", p.GetPayload()[payloadChunkID].GetStringValue())
	assert.Equal(t, "doc-1", p.GetPayload()[payloadDocumentID].GetStringValue())
	assert.Equal(t, "alice", p.GetPayload()[payloadOwnerID].GetStringValue())
	assert.Equal(t, int64(3), p.GetPayload()[payloadOrdinal].GetIntegerValue())
	assert.Equal(t, "hello", p.GetPayload()[payloadText].GetStringValue())
}

func TestOwnerFilter(t *testing.T) {
	t.Parallel()

	f := ownerFilter("alice")
	require.Len(t, f.GetMust(), 1)
	field := f.GetMust()[0].GetField()
	assert.Equal(t, payloadOwnerID, field.GetKey())
	assert.Equal(t, "alice", field.GetMatch().GetKeyword())
}

func TestMatchFromPoint(t *testing.T) {
	t.Parallel()

	p := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDUUID(pointID("doc-1-chunk-2")),
		Score: 0.75,
		Payload: qdrant.NewValueMap(map[string]any{
			payloadChunkID:    "doc-1-chunk-2",
			payloadDocumentID: "doc-1",
			payloadOwnerID:    "alice",
			payloadOrdinal:    int64(2),
			payloadText:       "passage",
		}),
	}

	m := matchFromPoint(p)
	assert.Equal(t, Match{
		ID:         "doc-1-chunk-2",
		DocumentID: "doc-1",
		OwnerID:    "alice",
		Ordinal:    2,
		Text:       "passage",
		Score:      0.75,
	}, m)
}

func TestMatchFromPoint_NoPayload(t *testing.T) {
	t.Parallel()

	id := pointID("x-chunk-0")
	m := matchFromPoint(&qdrant.ScoredPoint{Id: qdrant.NewIDUUID(id), Score: 0.5})
	assert.Equal(t, id, m.ID)
	assert.Empty(t, m.Text)
	assert.Empty(t, m.OwnerID)
}
