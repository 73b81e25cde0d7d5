package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNamesAreDistinctAndBounded(t *testing.T) {
	stores := []string{
		storeName(""),
		storeName("acme-eu"),
		storeName("acme_eu"),
		storeName(strings.Repeat("a", 63) + "b"),
		storeName(strings.Repeat("a", 63) + "c"),
	}

	prefix := strings.Repeat("p", 32)
	seen := make(map[string]string)
	for _, s := range stores {
		name := tableName(prefix, s)
		assert.LessOrEqual(t, len(name+"_hnsw"), 63, s)
		if other, dup := seen[name]; dup {
			t.Errorf("stores %q and %q share table %q", other, s, name)
		}
		seen[name] = s
	}

	assert.Equal(t, tableName("askdocs", "tenants/acme"), tableName("askdocs", "tenants/acme"))
}

func TestTablePrefixValidation(t *testing.T) {
	for _, prefix := range []string{"askdocs", "askdocs_test", "_x"} {
		assert.True(t, tablePrefixPattern.MatchString(prefix), prefix)
	}
	for _, prefix := range []string{"", "Ask", "a-b", "1abc", strings.Repeat("p", 33)} {
		assert.False(t, tablePrefixPattern.MatchString(prefix), prefix)
	}
}
