package store

import "github.com/surrealdb/gqlcache.go/pkg/models"

type MergeMode int

const (
	// Replace discards existing edges: first page or refetch.
	Replace MergeMode = iota
	// Append adds edges after the existing ones: a following page.
	Append
)

const (
	edgesKey    = "edges"
	pageInfoKey = "pageInfo"
	cursorKey   = "cursor"
	nodeKey     = "node"

	EndCursorKey       = "endCursor"
	HasNextPageKey     = "hasNextPage"
	StartCursorKey     = "startCursor"
	HasPreviousPageKey = "hasPreviousPage"
)

// HandleID is the id of the client record a connection's pages are merged into.
func HandleID(parent models.DataID, handleKey string) models.DataID {
	return models.ClientID(parent, handleKey)
}

// MergeConnection merges one server page into the connection handle record
// of its parent. Appended edges keep response order; an edge whose cursor is
// already present replaces the old edge at its position. The page info is
// replaced wholesale by the page's. A null page clears the handle when
// replacing and leaves it untouched when appending.
func MergeConnection(tx *Tx, payload ConnectionPayload, mode MergeMode) models.DataID {
	handle := HandleID(payload.ParentID, payload.HandleKey)
	if payload.RecordID == "" {
		if mode == Append {
			return handle
		}
		tx.Set(payload.ParentID, payload.HandleKey, nil)
		return handle
	}
	page, ok := tx.Get(payload.RecordID)
	if !ok {
		return handle
	}

	tx.Create(handle, page.Typename)
	tx.Set(payload.ParentID, payload.HandleKey, models.Ref{ID: handle})

	incoming, _ := page.GetRefs(edgesKey)
	var edges models.RefList
	if mode == Append {
		if current, ok := tx.Get(handle); ok {
			existing, _ := current.GetRefs(edgesKey)
			edges = append(edges, existing...)
		}
	}
	positions := make(map[string]int, len(edges))
	for i, id := range edges {
		if c, ok := cursorOf(tx, id); ok {
			positions[c] = i
		}
	}
	for _, id := range incoming {
		c, ok := cursorOf(tx, id)
		if pos, dup := positions[c]; ok && dup {
			edges[pos] = id
			continue
		}
		if ok {
			positions[c] = len(edges)
		}
		edges = append(edges, id)
	}
	if edges == nil {
		edges = models.RefList{}
	}
	tx.Set(handle, edgesKey, edges)

	pageInfo := models.ClientID(handle, pageInfoKey)
	if src, ok := page.GetRef(pageInfoKey); ok {
		if info, ok := tx.Get(src); ok {
			fields := make(map[string]any, len(info.Fields))
			for k, v := range info.Fields {
				fields[k] = v
			}
			typename := info.Typename
			tx.Delete(pageInfo)
			tx.Write(pageInfo, typename, fields)
		}
	}
	tx.Set(handle, pageInfoKey, models.Ref{ID: pageInfo})
	return handle
}

func cursorOf(tx *Tx, edge models.DataID) (string, bool) {
	if edge == "" {
		return "", false
	}
	r, ok := tx.Get(edge)
	if !ok {
		return "", false
	}
	c, ok := r.Fields[cursorKey].(string)
	return c, ok
}

// ConnectionInfo is the pagination state of a connection handle.
type ConnectionInfo struct {
	Exists      bool
	Edges       int
	EndCursor   string
	HasNextPage bool
}

// Connection reports the pagination state of the connection stored under
// handleKey on parent.
func (s *Store) Connection(parent models.DataID, handleKey string) ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info ConnectionInfo
	rec, ok := s.records[parent]
	if !ok {
		return info
	}
	handle, ok := rec.GetRef(handleKey)
	if !ok {
		return info
	}
	conn, ok := s.records[handle]
	if !ok {
		return info
	}
	info.Exists = true
	edges, _ := conn.GetRefs(edgesKey)
	info.Edges = len(edges)
	pid, ok := conn.GetRef(pageInfoKey)
	if !ok {
		return info
	}
	if pi, ok := s.records[pid]; ok {
		info.EndCursor, _ = pi.Fields[EndCursorKey].(string)
		info.HasNextPage, _ = pi.Fields[HasNextPageKey].(bool)
	}
	return info
}

// Edges returns the node ids of a connection handle in edge order.
func (s *Store) Edges(parent models.DataID, handleKey string) []models.DataID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[parent]
	if !ok {
		return nil
	}
	handle, ok := rec.GetRef(handleKey)
	if !ok {
		return nil
	}
	conn, ok := s.records[handle]
	if !ok {
		return nil
	}
	edges, _ := conn.GetRefs(edgesKey)
	out := make([]models.DataID, 0, len(edges))
	for _, e := range edges {
		edge, ok := s.records[e]
		if !ok {
			continue
		}
		if node, ok := edge.GetRef(nodeKey); ok {
			out = append(out, node)
		}
	}
	return out
}
