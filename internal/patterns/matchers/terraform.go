package matchers

import (
	"fmt"
	"path"
	"strings"

	"depsync/internal/data"
	"depsync/internal/patterns"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// TerraformMatcher finds the version argument of module blocks whose source
// equals the tracked package, e.g.
//
//	module "vpc" {
//	  source  = "acme/network/aws"
//	  version = "~> 2.0.3"
//	}
type TerraformMatcher struct{}

func (m *TerraformMatcher) ID() string          { return "terraform" }
func (m *TerraformMatcher) Title() string       { return "Terraform module version" }
func (m *TerraformMatcher) Kind() data.FileKind { return data.KindManifest }

func (m *TerraformMatcher) Description() string {
	return "Matches the version constraint of Terraform module blocks whose source is the tracked package."
}

func (m *TerraformMatcher) Applies(p string) bool {
	return path.Ext(p) == ".tf"
}

func (m *TerraformMatcher) Find(content []byte, pkg string) ([]patterns.Occurrence, error) {
	file, diags := hclsyntax.ParseConfig(content, "main.tf", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse terraform: %s", diags.Error())
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, nil
	}

	var out []patterns.Occurrence
	for _, block := range body.Blocks {
		if block.Type != "module" {
			continue
		}
		source, ok := stringAttr(block.Body, "source")
		if !ok || source != pkg {
			continue
		}
		attr, ok := block.Body.Attributes["version"]
		if !ok {
			continue
		}
		version, ok := stringAttr(block.Body, "version")
		if !ok {
			continue
		}

		rng := attr.Expr.Range()
		raw := string(content[rng.Start.Byte:rng.End.Byte])
		at := strings.Index(raw, version)
		if at < 0 {
			continue
		}
		s, e, ok := patterns.VersionSpan(version)
		if !ok {
			continue
		}
		base := rng.Start.Byte + at
		out = append(out, patterns.Occurrence{
			Version: version[s:e],
			Start:   base + s,
			End:     base + e,
		})
	}
	return out, nil
}

func stringAttr(body *hclsyntax.Body, name string) (string, bool) {
	attr, ok := body.Attributes[name]
	if !ok {
		return "", false
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() || !val.IsKnown() || val.IsNull() || !val.Type().Equals(cty.String) {
		return "", false
	}
	return val.AsString(), true
}

func init() {
	patterns.Register(&TerraformMatcher{})
}
