package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResetCommand_RequiresExactlyOneArg(t *testing.T) {
	t.Parallel()

	cmd := newResetCommand(&globalFlags{})

	assert.Error(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"a", "b"}))
	assert.NoError(t, cmd.Args(cmd, []string{"project-1"}))
}

func TestResetCommand_Use(t *testing.T) {
	t.Parallel()

	cmd := newResetCommand(&globalFlags{})
	assert.Equal(t, "reset <project-id>", cmd.Use)
}
