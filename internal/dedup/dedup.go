// Package dedup removes duplicate documents by content hash and source URL.
package dedup

// Document is the minimal shape the deduper needs: a stable content
// fingerprint and a canonical source URL, either of which may be empty.
type Document interface {
	Hash() string
	URL() string
}

// Dedupe runs the two-pass removal documented for retrieval results:
// first by hash, then by URL among survivors. Order is stable; documents
// lacking both hash and URL are kept unconditionally. The function is
// pure: it never mutates its input.
func Dedupe[T Document](docs []T) []T {
	byHash := make([]T, 0, len(docs))
	seenHash := make(map[string]struct{}, len(docs))

	for _, d := range docs {
		h := d.Hash()
		if h == "" {
			byHash = append(byHash, d)
			continue
		}
		if _, ok := seenHash[h]; ok {
			continue
		}
		seenHash[h] = struct{}{}
		byHash = append(byHash, d)
	}

	out := make([]T, 0, len(byHash))
	seenURL := make(map[string]struct{}, len(byHash))

	for _, d := range byHash {
		u := d.URL()
		if u == "" {
			out = append(out, d)
			continue
		}
		if _, ok := seenURL[u]; ok {
			continue
		}
		seenURL[u] = struct{}{}
		out = append(out, d)
	}

	return out
}
