package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLReturnsUsableLogger(t *testing.T) {
	assert.NotNil(t, L())
}

func TestNamedReturnsChildLogger(t *testing.T) {
	child := Named("shard.3")
	assert.NotNil(t, child)
	assert.True(t, child.IsInfo())
}

func TestSetupChangesLevel(t *testing.T) {
	Setup(&Settings{Name: "test-node", Level: "warn"})
	defer Setup(&Settings{})

	assert.False(t, L().IsInfo())
	assert.True(t, L().IsWarn())
}

func TestSetupDefaultsToInfoWhenLevelUnset(t *testing.T) {
	Setup(&Settings{Name: "test-node"})
	defer Setup(&Settings{})

	assert.True(t, L().IsInfo())
}
