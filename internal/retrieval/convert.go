package retrieval

import (
	"strconv"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

// documentFromPoint maps a scored vector-store point's payload onto the
// docmodel Document shape.
func documentFromPoint(p vectorstore.ScoredPoint) docmodel.Document {
	meta := docmodel.Metadata{
		URL:        p.Payload["url"],
		Title:      p.Payload["title"],
		Hash:       p.Payload["hash"],
		DocSet:     p.Payload["docSet"],
		SourceName: p.Payload["sourceName"],
		SourceKind: p.Payload["sourceKind"],
		DocType:    p.Payload["docType"],
		DocVersion: p.Payload["docVersion"],
		Collection: p.Payload["collection"],
		Score:      p.Score,
	}
	if v, err := strconv.Atoi(p.Payload["chunkIndex"]); err == nil {
		meta.ChunkIndex = v
	}
	if v, err := strconv.Atoi(p.Payload["pageStart"]); err == nil {
		meta.PageStart = v
	}
	if v, err := strconv.Atoi(p.Payload["pageEnd"]); err == nil {
		meta.PageEnd = v
	}

	return docmodel.Document{
		Text:     p.Payload["content"],
		Metadata: meta,
	}
}

// DocumentsFromPoints maps a list of scored points to documents,
// preserving order.
func DocumentsFromPoints(points []vectorstore.ScoredPoint) []docmodel.Document {
	docs := make([]docmodel.Document, len(points))
	for i, p := range points {
		docs[i] = documentFromPoint(p)
	}
	return docs
}
