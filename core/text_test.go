package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, Fold("Youth"), Fold("YOUTH"))
	assert.Equal(t, "청년", Fold("청년"))
	assert.True(t, ContainsFold("Seoul Youth Allowance", Fold("youth")))
	assert.False(t, ContainsFold("주거 지원", Fold("교육")))
}
