package services_test

import (
	"errors"
	"fmt"
	"testing"

	"registrar/services"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := services.ErrTeamSizeExceeded.With("team_size", 4).With("max_team_size", 3)

	assert.ErrorIs(t, err, services.ErrTeamSizeExceeded)
	assert.False(t, errors.Is(err, services.ErrTeamFull))
	assert.Equal(t, map[string]string{"team_size": "4", "max_team_size": "3"}, err.Metadata)
	assert.Empty(t, services.ErrTeamSizeExceeded.Metadata, "With must not mutate the sentinel")
}

func TestCodeAndKindOf(t *testing.T) {
	wrapped := fmt.Errorf("complete: %w", services.ErrNoSeatsAvailable)

	assert.Equal(t, services.CodeNoSeatsAvailable, services.CodeOf(wrapped))
	assert.Equal(t, services.KindCapacity, services.KindOf(wrapped))
	assert.Equal(t, services.CodeUnknown, services.CodeOf(errors.New("boom")))
	assert.Equal(t, services.ErrorKind(""), services.KindOf(errors.New("boom")))
}

func TestWithfKeepsCode(t *testing.T) {
	err := services.ErrDailyLimitExceeded.Withf("only %d left", 2)

	assert.Equal(t, "only 2 left", err.Error())
	assert.Equal(t, services.CodeDailyLimitExceeded, err.Code)
	assert.Equal(t, services.KindRateLimit, err.Kind)
}
