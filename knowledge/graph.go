package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mthorsen/paper-rag/cache"
)

// SyncGraph persists a derived knowledge graph into Neo4j: Paper and
// Term nodes merged by id, CONTAINS edges between them. Re-syncing the
// same graph is idempotent.
func SyncGraph(ctx context.Context, driver neo4j.DriverWithContext, graph cache.KnowledgeGraph) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, node := range graph.Nodes {
			switch node.Kind {
			case "paper":
				if _, err := tx.Run(ctx, `
					MERGE (p:Paper {id: $id})
					SET p.title = $title,
					    p.year = $year
				`, map[string]any{"id": node.ID, "title": node.Title, "year": node.Year}); err != nil {
					return nil, fmt.Errorf("merge paper node %s: %w", node.ID, err)
				}
			case "term":
				if _, err := tx.Run(ctx, `
					MERGE (t:Term {name: $name})
				`, map[string]any{"name": node.ID}); err != nil {
					return nil, fmt.Errorf("merge term node %s: %w", node.ID, err)
				}
			}
		}

		for _, edge := range graph.Edges {
			if _, err := tx.Run(ctx, `
				MATCH (p:Paper {id: $from})
				MATCH (t:Term {name: $to})
				MERGE (p)-[:CONTAINS]->(t)
			`, map[string]any{"from": edge.From, "to": edge.To}); err != nil {
				return nil, fmt.Errorf("merge contains edge %s -> %s: %w", edge.From, edge.To, err)
			}
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync knowledge graph: %w", err)
	}

	return nil
}

// TermsForPaper returns the terms linked to a paper node, for exploring
// a previously synced graph.
func TermsForPaper(ctx context.Context, driver neo4j.DriverWithContext, paperID string) ([]string, error) {
	if driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (p:Paper {id: $id})-[:CONTAINS]->(t:Term)
		RETURN t.name AS name
		ORDER BY name
	`, map[string]any{"id": paperID})
	if err != nil {
		return nil, fmt.Errorf("run terms query: %w", err)
	}

	var terms []string
	for result.Next(ctx) {
		if name, ok := result.Record().Get("name"); ok {
			if s, ok := name.(string); ok && s != "" {
				terms = append(terms, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("terms result error: %w", err)
	}

	return terms, nil
}
