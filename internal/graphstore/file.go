package graphstore

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/graph"
	"github.com/sells-group/access-cli/internal/model"
)

// Paths locates one mode's graph files. Edges is optional; without it edge
// geometries are straight segments between nodes.
type Paths struct {
	Graph string `mapstructure:"graph_path"`
	Edges string `mapstructure:"edges_path"`
}

// FileLoader loads graphs from GraphML and edge GeoJSON files on disk.
type FileLoader struct {
	Paths    map[model.Mode]Paths
	Profiles map[model.Mode]Profile
}

// Load reads the files configured for mode. Any I/O or format problem is a
// failure.DataLoad.
func (l FileLoader) Load(ctx context.Context, mode model.Mode) (*Handle, error) {
	paths, ok := l.Paths[mode]
	if !ok || paths.Graph == "" {
		return nil, failure.Newf(failure.DataLoad, "no graph path configured for mode %s", mode)
	}
	profile, ok := l.Profiles[mode]
	if !ok {
		profile = DefaultProfiles[mode]
	}

	g, err := readGraphFile(paths.Graph)
	if err != nil {
		return nil, failure.Wrap(failure.DataLoad, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "graphstore: load cancelled")
	}

	var edges []EdgeLine
	if paths.Edges == "" {
		edges = StraightEdges(g)
	} else {
		edges, err = readEdgeFile(paths.Edges)
		if err != nil {
			return nil, failure.Wrap(failure.DataLoad, err)
		}
	}

	h, err := NewHandle(mode, g, edges, profile)
	if err != nil {
		return nil, failure.Wrap(failure.DataLoad, err)
	}
	return h, nil
}

func readGraphFile(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "graphstore: open graph")
	}
	defer f.Close() //nolint:errcheck
	g, err := ReadGraphML(f)
	if err != nil {
		return nil, eris.Wrapf(err, "graphstore: parse %s", path)
	}
	return g, nil
}

func readEdgeFile(path string) ([]EdgeLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "graphstore: open edges")
	}
	defer f.Close() //nolint:errcheck
	edges, err := ReadEdgeGeoJSON(f)
	if err != nil {
		return nil, eris.Wrapf(err, "graphstore: parse %s", path)
	}
	return edges, nil
}
