// Package qgraph matches subgraph patterns against an object/link graph.
//
// A Pattern names vertex roles, filled by objects, and edge roles, filled by
// links. Vertices and edges carry a Condition selecting the items that may
// fill them, and an optional Annotation bounding how many distinct items
// fill the role within one match. Constraints compare attribute values (or
// identities) across roles of the same match.
//
// The result of every operator is a MatchRelation: vertex and edge
// bindings grouped by match id. The operators are methods of a Matcher:
//   - Seed selects the objects of one vertex, one match per object
//   - Extend grows matches through an edge to a new vertex
//   - Merge joins two independently built fragments through an edge
//   - Close binds an edge between two vertices that are already bound
//   - Gate drops matches exceeding a per-role maximum
//   - Constrain filters matches by a cross constraint, whole or quantified
//
// Relations are owned handles. Each one registers with the Matcher's
// innermost open Scope and is released when the scope closes, unless it is
// kept. Buffers come from pkg/pool.
//
// The Executor runs a whole Pattern with these operators and exports the
// final relation as a storage.Container.
//
// Example Usage:
//
//	p, err := qgraph.LoadPatternFile(osfs.New(), "rich-friends.yaml", nil)
//	if err != nil {
//		return err
//	}
//	x := qgraph.NewExecutor(engine, 30*time.Second)
//	res, err := x.Run(ctx, qgraph.Query{Pattern: p, Output: "rich-friends"})
//	if err != nil {
//		return err
//	}
//	fmt.Printf("%d matches\n", res.Matches)
package qgraph
