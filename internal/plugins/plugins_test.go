package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins_Order(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	ids := make([]string, 0, reg.Len())
	for _, c := range reg.List() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"web-config-scanner", "telerik-scanner"}, ids)
}
