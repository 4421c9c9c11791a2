// Package rules holds the declarative gather tables: which crash-report
// categories to query and which product/channel combinations to process.
// Both live in an embedded YAML database and are immutable once loaded.
package rules

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"crashgather/internal/catalog"
)

//go:embed rules.yml
var rulesFile []byte

// CategoryRule is one named report. ProcessSplit rules bucket their
// counts by process type; scalar rules accumulate a single total.
// DesktopOnly rules are skipped for non-desktop products.
type CategoryRule struct {
	Name         string
	Params       map[string][]string
	ProcessSplit bool
	DesktopOnly  bool
}

// AppliesTo reports whether the rule should run for a product.
func (r CategoryRule) AppliesTo(p Product) bool {
	return !r.DesktopOnly || p.Desktop
}

// Product is one entry of the product/channel map.
type Product struct {
	Name     string
	Desktop  bool
	Channels []catalog.Channel
}

type ruleEntry struct {
	Params       map[string][]string `yaml:"params"`
	ProcessSplit bool                `yaml:"process_split"`
	DesktopOnly  bool                `yaml:"desktop_only"`
}

type productEntry struct {
	Desktop  bool     `yaml:"desktop"`
	Channels []string `yaml:"channels"`
}

type rulesDoc struct {
	Reports  map[string]ruleEntry    `yaml:"reports"`
	Products map[string]productEntry `yaml:"products"`
}

// Load parses the embedded database. Rules and products come back sorted
// by name so runs iterate in a stable order.
func Load() ([]CategoryRule, []Product, error) {
	var doc rulesDoc
	if err := yaml.Unmarshal(rulesFile, &doc); err != nil {
		return nil, nil, fmt.Errorf("rules: parse embedded database: %w", err)
	}
	if len(doc.Reports) == 0 || len(doc.Products) == 0 {
		return nil, nil, fmt.Errorf("rules: embedded database is incomplete")
	}

	ruleList := make([]CategoryRule, 0, len(doc.Reports))
	for name, entry := range doc.Reports {
		if len(entry.Params) == 0 {
			return nil, nil, fmt.Errorf("rules: report %q has no params", name)
		}
		ruleList = append(ruleList, CategoryRule{
			Name:         name,
			Params:       entry.Params,
			ProcessSplit: entry.ProcessSplit,
			DesktopOnly:  entry.DesktopOnly,
		})
	}
	sort.Slice(ruleList, func(i, j int) bool { return ruleList[i].Name < ruleList[j].Name })

	productList := make([]Product, 0, len(doc.Products))
	for name, entry := range doc.Products {
		channels := make([]catalog.Channel, 0, len(entry.Channels))
		for _, ch := range entry.Channels {
			channels = append(channels, catalog.ParseChannel(ch))
		}
		productList = append(productList, Product{
			Name:     name,
			Desktop:  entry.Desktop,
			Channels: channels,
		})
	}
	sort.Slice(productList, func(i, j int) bool { return productList[i].Name < productList[j].Name })

	return ruleList, productList, nil
}

// ProductNames returns just the names, in order.
func ProductNames(products []Product) []string {
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	return names
}
