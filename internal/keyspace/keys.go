// Package keyspace derives cache keys. Every family gets its own leading
// segment so keys from different families can never collide, and caller
// supplied segments are escaped so a ':' inside an id stays inside its segment.
package keyspace

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	itemPrefix       = "item"
	collectionPrefix = "all"
	pagePrefix       = "page"
	childrenPrefix   = "childrenOf"
	parentPrefix     = "parentOf"
)

func join(parts ...string) string { return strings.Join(parts, ":") }

func esc(s string) string { return url.QueryEscape(s) }

// Item is the key of a single entity.
func Item(ns, id string) string {
	return join(itemPrefix, esc(ns), esc(id))
}

// Collection is the sentinel key of the full collection snapshot.
func Collection(ns string) string {
	return join(collectionPrefix, esc(ns))
}

// Page is the key of one offset/limit slice of a named collection.
func Page(ns, collection string, offset, limit int) string {
	return join(pagePrefix, esc(ns), esc(collection), strconv.Itoa(offset), strconv.Itoa(limit))
}

// ChildrenOf is the key of the children list of parentID under a relation.
func ChildrenOf(ns, relation, parentID string) string {
	return join(childrenPrefix, esc(ns), esc(relation), esc(parentID))
}

// ParentOf is the reverse lookup key of childID under a relation.
func ParentOf(ns, relation, childID string) string {
	return join(parentPrefix, esc(ns), esc(relation), esc(childID))
}

// CollectionName is the logical collection name used for the pages of the
// main collection.
const CollectionName = "all"

// ChildrenCollection names the page family of a children list.
func ChildrenCollection(relation, parentID string) string {
	return childrenPrefix + "/" + esc(relation) + "/" + esc(parentID)
}
