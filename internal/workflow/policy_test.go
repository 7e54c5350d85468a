package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

func verdict(status models.QAStatus, score float64, issues ...string) *models.QAResult {
	return &models.QAResult{Status: status, QualityScore: score, Issues: issues}
}

func TestDecideNoVerdictAccepts(t *testing.T) {
	action, _ := Decide(nil, 0, 0, 2, 1)
	assert.Equal(t, models.ActionAccept, action)
}

func TestDecidePass(t *testing.T) {
	action, _ := Decide(verdict(models.QAPass, 0.9), 0, 0, 2, 1)
	assert.Equal(t, models.ActionAccept, action)
}

func TestDecideRetryLadder(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		edits   int
		want    models.PolicyAction
	}{
		{"fresh attempt regenerates", 0, 0, models.ActionRetryNew},
		{"retries spent, edit next", 2, 0, models.ActionRetryEdit},
		{"everything spent, accept best effort", 2, 1, models.ActionAccept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _ := Decide(verdict(models.QARetry, 0.5), tt.retries, tt.edits, 2, 1)
			assert.Equal(t, tt.want, action)
		})
	}
}

func TestDecideFail(t *testing.T) {
	tests := []struct {
		name    string
		score   float64
		retries int
		edits   int
		maxR    int
		maxE    int
		want    models.PolicyAction
	}{
		{"first failure regenerates", 0.35, 0, 0, 2, 1, models.ActionRetryNew},
		{"retries spent, edit next", 0.35, 2, 0, 2, 1, models.ActionRetryEdit},
		{"all attempts used", 0.5, 2, 1, 2, 1, models.ActionGiveUp},
		{"zero attempt budget", 0.5, 0, 0, 0, 0, models.ActionGiveUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _ := Decide(verdict(models.QAFail, tt.score), tt.retries, tt.edits, tt.maxR, tt.maxE)
			assert.Equal(t, tt.want, action)
		})
	}
}

func TestDecideLowScoreOverride(t *testing.T) {
	// A repeated attempt below the threshold is abandoned whatever the
	// verdict says.
	for _, status := range []models.QAStatus{models.QAPass, models.QARetry, models.QAFail} {
		action, _ := Decide(verdict(status, 0.2), 1, 0, 2, 1)
		assert.Equal(t, models.ActionGiveUp, action, "status %s", status)
	}

	// The first attempt is exempt.
	action, _ := Decide(verdict(models.QARetry, 0.2), 0, 0, 2, 1)
	assert.Equal(t, models.ActionRetryNew, action)
}

func TestDecideTotal(t *testing.T) {
	valid := map[models.PolicyAction]bool{
		models.ActionAccept:    true,
		models.ActionRetryNew:  true,
		models.ActionRetryEdit: true,
		models.ActionGiveUp:    true,
	}
	statuses := []models.QAStatus{models.QAPass, models.QARetry, models.QAFail, "unknown"}
	for _, status := range statuses {
		for retries := 0; retries <= 3; retries++ {
			for edits := 0; edits <= 2; edits++ {
				action, reason := Decide(verdict(status, 0.5), retries, edits, 2, 1)
				assert.True(t, valid[action], "status=%s retries=%d edits=%d", status, retries, edits)
				assert.NotEmpty(t, reason)
			}
		}
	}
}

func TestDecideCountersNeverExceedMaxima(t *testing.T) {
	const maxRetries, maxEdits = 2, 1

	// Drive the policy with failing verdicts until it stops asking for
	// more attempts, applying the counter increments the loop would.
	retries, edits := 0, 0
	for i := 0; i < 10; i++ {
		action, _ := Decide(verdict(models.QAFail, 0.5), retries, edits, maxRetries, maxEdits)
		if action == models.ActionRetryNew {
			retries++
		} else if action == models.ActionRetryEdit {
			edits++
		} else {
			assert.Equal(t, models.ActionGiveUp, action)
			break
		}
		assert.LessOrEqual(t, retries, maxRetries)
		assert.LessOrEqual(t, edits, maxEdits)
	}
	assert.Equal(t, maxRetries, retries)
	assert.Equal(t, maxEdits, edits)
}
