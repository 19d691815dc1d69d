package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefineReturnsImprovedPrompt(t *testing.T) {
	client := &stubClient{responses: []string{"Improved instruction."}}
	refiner := NewRefiner(client, nil)

	got := refiner.Refine(context.Background(), "original", "input", "prev", "lost the schedule", 1)

	assert.Equal(t, "Improved instruction.", got)
	assert.Contains(t, client.prompts[0], "lost the schedule")
	assert.Contains(t, client.prompts[0], "retry attempt 1")
}

func TestRefineKeepsOriginalOnError(t *testing.T) {
	client := &stubClient{err: errors.New("oracle down")}
	refiner := NewRefiner(client, nil)

	got := refiner.Refine(context.Background(), "original", "input", "prev", "", 2)

	assert.Equal(t, "original", got, "refine must never return empty")
}

func TestRefineKeepsOriginalOnEmptyResponse(t *testing.T) {
	client := &stubClient{responses: []string{""}}
	refiner := NewRefiner(client, nil)

	got := refiner.Refine(context.Background(), "original", "input", "prev", "", 3)

	assert.Equal(t, "original", got)
}
