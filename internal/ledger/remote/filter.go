package remote

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// maxInIDs bounds the length of one id=in.(...) filter to keep URLs short.
const maxInIDs = 100

// encodeQuery renders q as PostgREST query parameters.
func encodeQuery(q Query) url.Values {
	v := url.Values{}
	v.Set("select", "*")
	v.Set("user_id", "eq."+q.UserID)
	if !q.UpdatedAfter.IsZero() {
		v.Set("updated_at", "gt."+q.UpdatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if q.IDs != nil {
		v.Set("id", "in.("+strings.Join(q.IDs, ",")+")")
	}
	v.Set("order", "created_at.asc")
	return v
}

// decodeQuery parses the filters produced by encodeQuery.
func decodeQuery(v url.Values) (Query, error) {
	var q Query

	userID, ok := strings.CutPrefix(v.Get("user_id"), "eq.")
	if !ok || userID == "" {
		return q, fmt.Errorf("user_id=eq.<id> filter is required")
	}
	q.UserID = userID

	if raw := v.Get("updated_at"); raw != "" {
		ts, ok := strings.CutPrefix(raw, "gt.")
		if !ok {
			return q, fmt.Errorf("unsupported updated_at filter %q", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return q, fmt.Errorf("invalid updated_at filter: %w", err)
		}
		q.UpdatedAfter = t
	}

	if raw := v.Get("id"); raw != "" {
		list, ok := strings.CutPrefix(raw, "in.(")
		if !ok || !strings.HasSuffix(list, ")") {
			return q, fmt.Errorf("unsupported id filter %q", raw)
		}
		list = strings.TrimSuffix(list, ")")
		q.IDs = []string{}
		if list != "" {
			q.IDs = strings.Split(list, ",")
		}
	}
	return q, nil
}

// eqID extracts the row id from an id=eq.<id> filter.
func eqID(v url.Values) (string, error) {
	id, ok := strings.CutPrefix(v.Get("id"), "eq.")
	if !ok || id == "" {
		return "", fmt.Errorf("id=eq.<id> filter is required")
	}
	return id, nil
}

// chunkIDs splits ids into slices of at most maxInIDs.
func chunkIDs(ids []string) [][]string {
	var chunks [][]string
	for len(ids) > maxInIDs {
		chunks = append(chunks, ids[:maxInIDs])
		ids = ids[maxInIDs:]
	}
	return append(chunks, ids)
}
