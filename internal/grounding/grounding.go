// Package grounding builds the shared prompt prefix: glossary definitions,
// user-supplied context and the fixed answer constraints. The output is
// deterministic for a given glossary file and input.
package grounding

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Term is one glossary entry.
type Term struct {
	Name       string `yaml:"name"`
	Full       string `yaml:"full"`
	Definition string `yaml:"definition"`
}

// constraints is the fixed closing section appended to every grounded prompt.
const constraints = "Réponds de façon concise, factuelle et fidèle au contexte fourni. " +
	"Si le contexte ne suffit pas, dis-le explicitement."

// Glossary holds the term definitions loaded from the glossary file.
// Read-only after construction; safe to share across goroutines.
type Glossary struct {
	terms map[string]Term
}

// Load reads the glossary file. A missing or unreadable file yields an empty
// glossary rather than an error: grounding degrades to user context only.
func Load(path string) (*Glossary, error) {
	g := &Glossary{terms: map[string]Term{}}
	if path == "" {
		return g, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, fmt.Errorf("grounding: read glossary %s: %w", path, err)
	}

	var file struct {
		Terms map[string]Term `yaml:"terms"`
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("grounding: parse glossary %s: %w", path, err)
	}
	if file.Terms != nil {
		g.terms = file.Terms
	}
	return g, nil
}

// Lookup returns the term for key, if defined.
func (g *Glossary) Lookup(key string) (Term, bool) {
	t, ok := g.terms[key]
	return t, ok
}

// Keys returns all defined term keys, sorted.
func (g *Glossary) Keys() []string {
	keys := make([]string, 0, len(g.terms))
	for k := range g.terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildContext assembles the grounded prompt prefix. Unknown term keys are
// skipped; terms are emitted in the order requested. Empty sections are
// omitted except [Constraints], which is always present.
func (g *Glossary) BuildContext(userContext string, termKeys []string) string {
	var b strings.Builder

	var lines []string
	for _, key := range termKeys {
		t, ok := g.terms[key]
		if !ok {
			continue
		}
		line := "- " + t.Name
		if t.Full != "" {
			line += " (" + t.Full + ")"
		}
		if t.Definition != "" {
			line += ": " + t.Definition
		}
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		b.WriteString("[Glossary]\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}

	if userContext != "" {
		b.WriteString("[User context]\n")
		b.WriteString(userContext)
		b.WriteString("\n\n")
	}

	b.WriteString("[Constraints]\n")
	b.WriteString(constraints)
	return b.String()
}
