package browser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatewatch/internal/gateway"
)

func TestChainOf(t *testing.T) {
	box := gateway.Locator{CSS: "div.methods", Frame: 2}
	item := gateway.Locator{CSS: "li", HasText: "FPX"}.At(1).Within(box)
	logo := gateway.Locator{CSS: "img"}.Within(item)

	want := []step{
		{CSS: "div.methods", Frame: 2},
		{CSS: "li", HasText: "FPX", Nth: 1},
		{CSS: "img"},
	}
	if diff := cmp.Diff(want, chainOf(logo)); diff != "" {
		t.Errorf("chainOf mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, rootFrame(logo))
	assert.Equal(t, 0, rootFrame(gateway.Locator{CSS: "body"}))
}

func TestExpression(t *testing.T) {
	loc := gateway.Locator{CSS: `input[name="amount"]`}
	expr, err := expression(loc, opFill, `1,000 "x"`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(expr, "(function (chain, op, arg)"))
	assert.Contains(t, expr, `[{"css":"input[name=\"amount\"]","nth":0}]`)
	assert.Contains(t, expr, `"fill"`)
	assert.Contains(t, expr, `"1,000 \"x\""`)
}

func TestTagSelector(t *testing.T) {
	assert.Equal(t, `[data-gatewatch="t7"]`, tagSelector("t7"))
}
