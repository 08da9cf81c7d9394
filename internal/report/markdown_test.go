package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tracecov/internal/models"
)

func TestRenderMarkdown(t *testing.T) {
	r := NewBuilder(nil, WithClock(fixedClock)).Build(sampleCoverage(), windowFrom, windowTo, "run-7")

	md := RenderMarkdown(r)

	assert.True(t, strings.HasPrefix(md, "# Coverage Report: run-7\n"))
	assert.Contains(t, md, "**Window:** 2024-01-15T10:00:00Z to 2024-01-15T11:00:00Z")
	assert.Contains(t, md, "- Services: 2/2 (100.00%)")
	assert.Contains(t, md, "- Methods: 3/3 (100.00%)")
	assert.Contains(t, md, "| `/hipstershop.CartService/AddItem` | yes | 2 |")
	assert.Less(t, strings.Index(md, "### cartservice"), strings.Index(md, "### paymentservice"))
}

func TestRenderMarkdownEmpty(t *testing.T) {
	r := NewBuilder(nil).Build(models.Coverage{}, windowFrom, windowTo, "empty")

	md := RenderMarkdown(r)
	assert.Contains(t, md, "No business-logic spans were observed")
}
