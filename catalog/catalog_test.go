package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
)

const shop = `
selectors:
  - id: price
    site: shop
    module: product
    threshold: 0.8
    strategies:
      - id: itemprop
        priority: 1
        attribute_match: {attribute: itemprop, pattern: price, exact: true}
      - id: label
        priority: 2
        enabled: false
        tree_relationship: {relation: next_sibling, anchor: span.label}
    rules:
      - {kind: shape, weight: 2, shape: price}
  - id: buy
    threshold: 0.7
    strategies:
      - id: role
        priority: 1
        role_based:
          role: button
          required: {type: submit}
          excluded: [disabled]
`

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(shop))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	price := defs[0]
	assert.Equal(t, "price", price.ID)
	assert.Equal(t, 0.8, price.Threshold)
	require.Len(t, price.Strategies, 2)
	assert.True(t, price.Strategies[0].Enabled, "enabled by default")
	assert.False(t, price.Strategies[1].Enabled)
	assert.Equal(t, models.KindAttributeMatch, price.Strategies[0].Kind())
	assert.Equal(t, models.RelationNextSibling, price.Strategies[1].Tree.Relation)
	assert.Equal(t, models.ShapePrice, price.Rules[0].Shape)

	buy := defs[1]
	assert.Equal(t, "submit", buy.Strategies[0].Role.Required["type"])
	assert.Equal(t, []string{"disabled"}, buy.Strategies[0].Role.Excluded)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("selectors: [ {id: x"))
	assert.Error(t, err)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(shop), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("selectors:\n  - id: first\n    strategies:\n      - {id: t, priority: 1, text_anchor: {text: Hi}}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "first", defs[0].ID)
	assert.True(t, defs[0].Strategies[0].Enabled)
}

func TestRegister_CollectsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	bad := shop + `
  - id: broken
    strategies:
      - {id: x, priority: 1}
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	reg := registry.New()
	n, err := Register(reg, path)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeDefinitionInvalid))
	assert.Equal(t, 2, reg.Len())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
