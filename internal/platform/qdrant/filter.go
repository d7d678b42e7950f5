package qdrant

import "strings"

// Payload keys. user_id and report_id are on every point; facet chunks
// also carry chunk_id and the collection back-reference.
const (
	PayloadUserID         = "user_id"
	PayloadReportID       = "report_id"
	PayloadChunkID        = "chunk_id"
	PayloadCollectionName = "collection_name"
	PayloadCollectionID   = "collection_id"
	PayloadText           = "text"
)

type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	Should  []Condition `json:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

type Match struct {
	Value any      `json:"value,omitempty"`
	Any   []string `json:"any,omitempty"`
}

func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: Match{Value: value}}
}

func MatchAny(key string, values []string) Condition {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return Condition{Key: key, Match: Match{Any: out}}
}

// OwnerFilter restricts a query to a single owner's points.
func OwnerFilter(ownerID string, extra ...Condition) Filter {
	f := Filter{Must: []Condition{MatchValue(PayloadUserID, ownerID)}}
	f.Must = append(f.Must, extra...)
	return f
}

// HasOwner reports whether the filter pins user_id to ownerID.
func (f Filter) HasOwner(ownerID string) bool {
	for _, c := range f.Must {
		if c.Key != PayloadUserID {
			continue
		}
		if s, ok := c.Match.Value.(string); ok && s == ownerID && s != "" {
			return true
		}
	}
	return false
}

func (f Filter) Empty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0
}
