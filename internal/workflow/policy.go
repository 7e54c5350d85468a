// Package workflow drives the generation control loop: it advances the
// scene/shot/variation cursor, sequences the plan, review, variation,
// render and QA nodes, applies the retry policy to every attempt and
// persists run state so an interrupted run can resume.
package workflow

import (
	"fmt"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

// giveUpThreshold is the quality score below which a repeated attempt is
// abandoned outright instead of retried again.
const giveUpThreshold = 0.3

// Decide maps one QA verdict and the attempt counters to a policy action.
// It is total: every input combination yields exactly one action. The
// returned reason is for the event log only.
func Decide(qa *models.QAResult, retryCount, editRetryCount, maxRetries, maxEditRetries int) (models.PolicyAction, string) {
	if qa == nil {
		return models.ActionAccept, "no qa verdict, accepting as-is"
	}

	// A repeated attempt that still scores this low is not worth more
	// spend, whatever the verdict says.
	if retryCount > 0 && qa.QualityScore < giveUpThreshold {
		return models.ActionGiveUp, fmt.Sprintf("score %.2f below %.2f on retry %d", qa.QualityScore, giveUpThreshold, retryCount)
	}

	switch qa.Status {
	case models.QAPass:
		return models.ActionAccept, fmt.Sprintf("qa passed with score %.2f", qa.QualityScore)

	case models.QARetry:
		if retryCount < maxRetries {
			return models.ActionRetryNew, "qa asked for a retry"
		}
		if editRetryCount < maxEditRetries {
			return models.ActionRetryEdit, "retries exhausted, trying a targeted edit"
		}
		return models.ActionAccept, "retry budget exhausted, accepting best effort"

	case models.QAFail:
		if retryCount+editRetryCount >= maxRetries+maxEditRetries {
			return models.ActionGiveUp, "qa failed with all attempts used"
		}
		if retryCount < maxRetries {
			return models.ActionRetryNew, "qa failed, regenerating"
		}
		if editRetryCount < maxEditRetries {
			return models.ActionRetryEdit, "qa failed, trying a targeted edit"
		}
		return models.ActionGiveUp, "qa failed with no attempts left"
	}

	return models.ActionAccept, fmt.Sprintf("unknown qa status %q, accepting", qa.Status)
}
