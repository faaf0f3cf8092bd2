package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/linkdb/pkg/graph"
	"github.com/orneryd/linkdb/pkg/value"
)

// edgeRecord is one parsed line of an edge list.
type edgeRecord struct {
	Type  string
	From  graph.NodeID
	To    graph.NodeID
	Props value.Value
}

// parseEdgeRecord turns type,from,to[,json-properties] fields into a record.
func parseEdgeRecord(fields []string) (edgeRecord, error) {
	if len(fields) < 3 || len(fields) > 4 {
		return edgeRecord{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}
	rec := edgeRecord{
		Type: strings.TrimSpace(fields[0]),
		From: graph.NodeID(strings.TrimSpace(fields[1])),
		To:   graph.NodeID(strings.TrimSpace(fields[2])),
	}
	if rec.Type == "" || rec.From == "" || rec.To == "" {
		return edgeRecord{}, errors.New("type, from and to must not be empty")
	}
	if len(fields) == 4 && strings.TrimSpace(fields[3]) != "" {
		if err := json.Unmarshal([]byte(fields[3]), &rec.Props); err != nil {
			return edgeRecord{}, fmt.Errorf("properties: %w", err)
		}
	}
	return rec, nil
}

type importResult struct {
	Lines         int
	Relationships int
	Nodes         int
}

// importEdges reads an edge list from r into g. With createNodes, missing
// endpoints are added as nodes without properties first, which only works
// when the engine accepts caller-supplied ids.
func importEdges(ctx context.Context, g *graph.Engine, r io.Reader, createNodes, header bool) (importResult, error) {
	var res importResult
	if strategy := g.Options().IDStrategy; createNodes && strategy != graph.IDCallerSupplied {
		return res, fmt.Errorf("creating nodes from edge list ids needs the %q id strategy, configured %q; rerun with --create-nodes=false",
			graph.IDCallerSupplied, strategy)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Lines++
		if header && res.Lines == 1 {
			continue
		}
		line, _ := cr.FieldPos(0)

		rec, err := parseEdgeRecord(fields)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		if createNodes {
			for _, id := range []graph.NodeID{rec.From, rec.To} {
				added, err := ensureNode(ctx, g, id)
				if err != nil {
					return res, fmt.Errorf("line %d: %w", line, err)
				}
				if added {
					res.Nodes++
				}
			}
		}
		if _, err := g.AddRelationship(ctx, rec.Type, rec.From, rec.To, rec.Props); err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		res.Relationships++
	}
}

func ensureNode(ctx context.Context, g *graph.Engine, id graph.NodeID) (bool, error) {
	_, err := g.AddNode(ctx, id, value.Null())
	if errors.Is(err, graph.ErrDuplicateNode) {
		return false, nil
	}
	return err == nil, err
}

func runImport(cmd *cobra.Command, args []string) error {
	createNodes, _ := cmd.Flags().GetBool("create-nodes")
	header, _ := cmd.Flags().GetBool("header")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	res, err := importEdges(cmd.Context(), db.Graph(), f, createNodes, header)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d relationships (%d new nodes) from %d lines\n",
		res.Relationships, res.Nodes, res.Lines)
	return nil
}
