package graphstore

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/graph"
	"github.com/sells-group/access-cli/internal/ingest"
)

type graphmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

// ReadGraphML parses a GraphML document whose nodes carry "x" (lon) and "y"
// (lat) attributes and whose edges carry a "weight" attribute in seconds.
// Direction follows the graph's edgedefault; a missing edgedefault means
// directed.
func ReadGraphML(r io.Reader) (*graph.Graph, error) {
	dec := ingest.NewXMLDecoder(r)

	// attr.name -> key id, per domain
	nodeKeys := map[string]string{}
	edgeKeys := map[string]string{}

	var b *graph.Builder
	var nodes, edges int

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "graphml: read token")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "key":
			var k graphmlKey
			if err := dec.DecodeElement(&k, &se); err != nil {
				return nil, eris.Wrap(err, "graphml: decode key")
			}
			switch k.For {
			case "node":
				nodeKeys[k.Name] = k.ID
			case "edge":
				edgeKeys[k.Name] = k.ID
			case "all":
				nodeKeys[k.Name] = k.ID
				edgeKeys[k.Name] = k.ID
			}

		case "graph":
			if b != nil {
				return nil, eris.New("graphml: nested or multiple graphs are not supported")
			}
			directed := true
			for _, a := range se.Attr {
				if a.Name.Local == "edgedefault" {
					directed = !strings.EqualFold(a.Value, "undirected")
				}
			}
			b = graph.NewBuilder(directed)

		case "node":
			if b == nil {
				return nil, eris.New("graphml: node outside graph")
			}
			var n graphmlNode
			if err := dec.DecodeElement(&n, &se); err != nil {
				return nil, eris.Wrap(err, "graphml: decode node")
			}
			x, err := dataFloat(n.Data, nodeKeys["x"])
			if err != nil {
				return nil, eris.Wrapf(err, "graphml: node %q x", n.ID)
			}
			y, err := dataFloat(n.Data, nodeKeys["y"])
			if err != nil {
				return nil, eris.Wrapf(err, "graphml: node %q y", n.ID)
			}
			if err := b.AddNode(n.ID, x, y); err != nil {
				return nil, eris.Wrap(err, "graphml")
			}
			nodes++

		case "edge":
			if b == nil {
				return nil, eris.New("graphml: edge outside graph")
			}
			var e graphmlEdge
			if err := dec.DecodeElement(&e, &se); err != nil {
				return nil, eris.Wrap(err, "graphml: decode edge")
			}
			w, err := dataFloat(e.Data, edgeKeys["weight"])
			if err != nil {
				return nil, eris.Wrapf(err, "graphml: edge %s->%s weight", e.Source, e.Target)
			}
			if err := b.AddEdge(e.Source, e.Target, w); err != nil {
				return nil, eris.Wrap(err, "graphml")
			}
			edges++
		}
	}

	if b == nil {
		return nil, eris.New("graphml: no graph element")
	}
	g, err := b.Build()
	if err != nil {
		return nil, eris.Wrap(err, "graphml")
	}
	return g, nil
}

func dataFloat(data []graphmlData, keyID string) (float64, error) {
	if keyID == "" {
		return 0, eris.New("attribute not declared")
	}
	for _, d := range data {
		if d.Key == keyID {
			v, err := strconv.ParseFloat(strings.TrimSpace(d.Value), 64)
			if err != nil {
				return 0, eris.Wrapf(err, "parse %q", d.Value)
			}
			return v, nil
		}
	}
	return 0, eris.New("attribute missing")
}
