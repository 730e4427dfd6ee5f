package netdef

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Load parses every .hcl file reachable from the given paths and merges the
// declared blocks into a single Model. A path may name a file or a
// directory; directories are searched recursively.
func Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Network description loader started.", "path_count", len(paths))

	files, err := findDescriptionFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl network description files found in %v", paths)
	}
	logger.Debug("Discovered description files.", "count", len(files))

	model := &Model{}
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}

		for _, in := range root.Inputs {
			model.Inputs = append(model.Inputs, &Input{Name: in.Name, Rows: in.Rows})
		}
		for _, p := range root.Parameters {
			param, err := translateParameter(p)
			if err != nil {
				return nil, fmt.Errorf("parameter %q in %s: %w", p.Name, file, err)
			}
			model.Parameters = append(model.Parameters, param)
		}
		for _, n := range root.Nodes {
			model.Nodes = append(model.Nodes, &Node{
				Name:       n.Name,
				Op:         n.Op,
				Inputs:     n.Inputs,
				Output:     n.Output,
				Evaluation: n.Evaluation,
			})
		}
		for _, d := range root.Delays {
			model.Delays = append(model.Delays, &Delay{
				Name:    d.Name,
				Op:      d.Op,
				Input:   d.Input,
				Initial: d.Initial,
			})
		}
		for _, c := range root.Criteria {
			model.Criteria = append(model.Criteria, &Criterion{
				Name:   c.Name,
				Op:     c.Op,
				Inputs: c.Inputs,
			})
		}
	}

	logger.Debug("Network description loading complete.",
		"inputs", len(model.Inputs),
		"parameters", len(model.Parameters),
		"nodes", len(model.Nodes),
		"delays", len(model.Delays),
		"criteria", len(model.Criteria),
	)
	return model, nil
}

// translateParameter evaluates the optional init_scale expression and
// converts it to a float.
func translateParameter(p *parameterBlock) (*Parameter, error) {
	param := &Parameter{Name: p.Name, Rows: p.Rows, Cols: p.Cols}
	if p.InitScale == nil {
		return param, nil
	}
	val, diags := p.InitScale.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating init_scale: %w", diags)
	}
	if val.IsNull() {
		return param, nil
	}
	converted, err := convert.Convert(val, cty.Number)
	if err != nil {
		return nil, fmt.Errorf("init_scale must be a number: %w", err)
	}
	if err := gocty.FromCtyValue(converted, &param.InitScale); err != nil {
		return nil, fmt.Errorf("decoding init_scale: %w", err)
	}
	return param, nil
}

// findDescriptionFiles resolves the given paths to a deduplicated list of
// .hcl files.
func findDescriptionFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, dup := seen[p]; !dup {
			all = append(all, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if info.IsDir() {
			found, err := fsutil.FindFilesByExtension(path, ".hcl")
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				add(f)
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	return all, nil
}
