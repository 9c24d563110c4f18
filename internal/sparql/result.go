// Package sparql executes structured queries against a SPARQL 1.1 endpoint
// and flattens their results into answers.
package sparql

// Result is a SPARQL 1.1 query result in the JSON serialization. SELECT
// results carry Results; ASK results carry Boolean.
type Result struct {
	Head    Head      `json:"head"`
	Results *Bindings `json:"results,omitempty"`
	Boolean *bool     `json:"boolean,omitempty"`
}

type Head struct {
	Vars []string `json:"vars,omitempty"`
}

type Bindings struct {
	Bindings []Row `json:"bindings"`
}

// Row maps variable names to the terms bound in one solution.
type Row map[string]Term

type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

func (r *Result) IsBoolean() bool {
	return r != nil && r.Boolean != nil && r.Results == nil
}

func (r *Result) Rows() []Row {
	if r == nil || r.Results == nil {
		return nil
	}
	return r.Results.Bindings
}
