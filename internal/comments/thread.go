package comments

import "sort"

// ThreadNode is a comment with its replies, derived from a Collection on every build.
type ThreadNode struct {
	Comment  Comment
	Depth    int
	Children []ThreadNode
}

// FlatNode is a thread node positioned for display.
type FlatNode struct {
	Comment Comment
	Depth   int
}

// BuildThreads converts a flat collection into root threads ordered newest-first.
// A comment whose parent is missing from the collection is treated as a root.
func BuildThreads(collection Collection) []ThreadNode {
	if len(collection) == 0 {
		return nil
	}

	children := make(map[string][]Comment, len(collection))
	for id, comment := range collection {
		comment.ID = id
		parent := comment.ParentID
		if parent == id {
			parent = ""
		}
		if _, ok := collection[parent]; !ok {
			parent = ""
		}
		children[parent] = append(children[parent], comment)
	}
	for parent := range children {
		sortSiblings(children[parent])
	}

	visited := make(map[string]struct{}, len(collection))
	roots := make([]ThreadNode, 0, len(children[""]))
	for _, comment := range children[""] {
		roots = append(roots, attach(comment, 0, children, visited))
	}

	// Only a cyclic parent chain leaves comments unreachable from the roots.
	if len(visited) < len(collection) {
		stranded := make([]Comment, 0, len(collection)-len(visited))
		for id, comment := range collection {
			if _, ok := visited[id]; !ok {
				comment.ID = id
				stranded = append(stranded, comment)
			}
		}
		sortSiblings(stranded)
		for _, comment := range stranded {
			if _, ok := visited[comment.ID]; ok {
				continue
			}
			roots = append(roots, attach(comment, 0, children, visited))
		}
		sortNodes(roots)
	}

	return roots
}

func attach(comment Comment, depth int, children map[string][]Comment, visited map[string]struct{}) ThreadNode {
	visited[comment.ID] = struct{}{}
	node := ThreadNode{Comment: comment, Depth: depth}
	for _, child := range children[comment.ID] {
		if _, ok := visited[child.ID]; ok {
			continue
		}
		node.Children = append(node.Children, attach(child, depth+1, children, visited))
	}
	return node
}

// Flatten walks threads depth-first in display order.
func Flatten(roots []ThreadNode) []FlatNode {
	var flat []FlatNode
	var walk func(nodes []ThreadNode)
	walk = func(nodes []ThreadNode) {
		for _, node := range nodes {
			flat = append(flat, FlatNode{Comment: node.Comment, Depth: node.Depth})
			walk(node.Children)
		}
	}
	walk(roots)
	return flat
}

// newerFirst orders by creation time descending, pending writes first, then by id descending.
func newerFirst(left, right Comment) bool {
	if left.CreatedAt.After(right.CreatedAt) {
		return true
	}
	if right.CreatedAt.After(left.CreatedAt) {
		return false
	}
	return left.ID > right.ID
}

func sortSiblings(siblings []Comment) {
	sort.SliceStable(siblings, func(i, j int) bool {
		return newerFirst(siblings[i], siblings[j])
	})
}

func sortNodes(nodes []ThreadNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return newerFirst(nodes[i].Comment, nodes[j].Comment)
	})
}
