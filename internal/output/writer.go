package output

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gyeh/rx-pathways/internal/filterview"
	"github.com/gyeh/rx-pathways/internal/model"
)

// ViewParams records the query that produced a filtered view.
type ViewParams struct {
	Window        string   `json:"window"`
	Variant       string   `json:"variant"`
	IncludedDrugs []string `json:"included_drugs,omitempty"`
	IncludedOrgs  []string `json:"included_orgs,omitempty"`
}

// ViewDocument is the JSON document emitted for one filtered view.
type ViewDocument struct {
	Params ViewParams          `json:"params"`
	Totals filterview.Totals   `json:"totals"`
	Nodes  []model.PathwayNode `json:"nodes"`
}

// WriteView writes a filtered view as indented JSON to the given path,
// or to stdout when the path is "-".
func WriteView(outputPath string, params ViewParams, view *filterview.View) error {
	doc := ViewDocument{
		Params: params,
		Totals: view.Totals,
		Nodes:  view.Nodes,
	}
	if doc.Nodes == nil {
		doc.Nodes = []model.PathwayNode{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}

	if outputPath == "-" {
		_, err = os.Stdout.Write(data)
		fmt.Fprintln(os.Stdout)
		return err
	}

	return os.WriteFile(outputPath, data, 0o644)
}
