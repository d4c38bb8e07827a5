// Package declarative reads and writes YAML pipeline definitions.
package declarative

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions configures YAML loading behavior.
type LoadOptions struct {
	AllowUnknownFields bool
}

// Decode reads every document in a YAML stream. Documents are separated by
// "---"; empty documents are skipped.
func Decode(r io.Reader, opts LoadOptions) ([]*PipelineDoc, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(!opts.AllowUnknownFields)

	var docs []*PipelineDoc
	for i := 1; ; i++ {
		var node yaml.Node
		err := decoder.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if len(node.Content) == 0 || node.Content[0].Tag == "!!null" {
			continue
		}

		doc := &PipelineDoc{}
		if err := decodeNode(&node, doc, opts); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if err := validateDocument(doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, errors.New("no pipeline documents found")
	}
	return docs, nil
}

// decodeNode re-encodes node so that strict field checking applies to the
// document body as well.
func decodeNode(node *yaml.Node, target any, opts LoadOptions) error {
	if opts.AllowUnknownFields {
		return node.Decode(target)
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(target)
}

// LoadFile reads all pipeline documents from path.
func LoadFile(path string, opts LoadOptions) ([]*PipelineDoc, error) {
	f, err := os.Open(path) //nolint:gosec // reading user-specified definition files
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	docs, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, d := range docs {
		d.Source = path
	}
	return docs, nil
}

// LoadPath loads a single file, or every .yaml/.yml file directly inside a
// directory in name order. Pipeline names must be unique across the result.
func LoadPath(path string, opts LoadOptions) ([]*PipelineDoc, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("definition path: %w", err)
	}
	if !info.IsDir() {
		return LoadFile(path, opts)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files in %s", path)
	}

	var all []*PipelineDoc
	seen := make(map[string]string)
	for _, f := range files {
		docs, err := LoadFile(f, opts)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if prev, ok := seen[d.Metadata.Name]; ok {
				return nil, fmt.Errorf("pipeline %q defined in both %s and %s", d.Metadata.Name, prev, f)
			}
			seen[d.Metadata.Name] = f
		}
		all = append(all, docs...)
	}
	return all, nil
}

// validateDocument checks the envelope and the pipeline definition itself.
func validateDocument(doc *PipelineDoc) error {
	if doc.APIVersion != SupportedAPIVersion {
		return fmt.Errorf("unsupported apiVersion %q (expected %q)", doc.APIVersion, SupportedAPIVersion)
	}
	if doc.Kind != KindPipeline {
		return fmt.Errorf("unsupported kind %q (expected %q)", doc.Kind, KindPipeline)
	}
	return doc.Pipeline().Validate()
}
