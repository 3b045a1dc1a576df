package insights

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/logging"
)

// reviewPromptCount is how many questions a review request carries.
const reviewPromptCount = 3

// ReviewPrompts generates questions to include in a post-purchase review
// request for one user, targeted at what that user actually asked before
// buying. A reviewer prompted about their own pre-purchase doubts writes the
// review the next shopper needs. Returns ErrNoData when the user has no
// recorded questions.
func (e *Engine) ReviewPrompts(ctx context.Context, userID int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	queries, err := e.store.QueriesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, ErrNoData
	}

	lines := make([]string, 0, len(queries))
	for _, q := range queries {
		lines = append(lines, q.Query)
	}

	sys := fmt.Sprintf(`A customer asked the following questions before purchasing a product. Write %d short questions to include in their review request, each prompting them to address one of the things they wondered about. The three questions must be, in order:

1. A question answerable with a rating from 1 to 5.
2. A yes/no question.
3. An open-ended question inviting a sentence or two.

Each question targets a different aspect the customer asked about. Example, for a customer who asked about sizing and warmth:

["How would you rate the fit from 1 to 5?", "Did it keep you warm outdoors?", "What would you tell someone unsure about the sizing?"]

Respond with ONLY a JSON array of %d strings.`, reviewPromptCount, reviewPromptCount)
	msgs := []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(strings.Join(lines, "\n")),
	}
	out, err := e.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("insights: review prompt call: %w", err)
	}

	prompts, err := extractJSONStrings(out.Content)
	if err != nil {
		return nil, err
	}
	if len(prompts) > reviewPromptCount {
		prompts = prompts[:reviewPromptCount]
	}
	logging.FromContext(ctx).Info("review prompts generated",
		"user_id", userID, "count", len(prompts))
	return prompts, nil
}
