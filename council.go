package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

const (
	// ErrorModelTag marks a Stage 3 result that was not produced by any model.
	ErrorModelTag = "error"

	NoResponsesMessage     = "No responses to synthesize."
	SynthesisFailedMessage = "Error: Synthesis failed."
	NoStage1ResultsMessage = "No stage 1 results"
)

// maxTitleLength is the longest conversation title kept, in characters.
const maxTitleLength = 50

// Stage names reported to a StageObserver.
const (
	StageOne   = "stage1"
	StageTwo   = "stage2"
	StageThree = "stage3"
)

// ErrEmptyQuery is returned when a council is asked an empty question.
var ErrEmptyQuery = errors.New("query must not be empty")

// ValidateQuery rejects blank questions before a council is run.
func ValidateQuery(userQuery string) error {
	if strings.TrimSpace(userQuery) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// StageObserver is notified before and after each stage. started is true on entry;
// on exit state already includes the stage's update.
type StageObserver func(stage string, started bool, state CouncilState)

// Council runs the three-stage process against a fixed set of models.
type Council struct {
	invoker    ModelInvoker
	models     []string
	chairman   string
	titleModel string
}

// NewCouncil creates a council over models with the given chairman. Models are
// labeled A-Z, so at most MaxCouncilSize of them take part in ranking.
func NewCouncil(invoker ModelInvoker, models []string, chairman string, titleModel string) *Council {
	return &Council{
		invoker:    invoker,
		models:     append([]string(nil), models...),
		chairman:   chairman,
		titleModel: titleModel,
	}
}

// NewCouncilFromConfig builds a council backed by OpenRouter from the loaded configuration.
func NewCouncilFromConfig() *Council {
	client := NewOpenRouterClient(OpenRouterAPIKey, OpenRouterBaseURL, ModelQueryTimeout)
	return NewCouncil(client, CouncilModels, ChairmanModel, TitleModel)
}

// Models returns the council members in configuration order.
func (c *Council) Models() []string {
	return append([]string(nil), c.models...)
}

// Chairman returns the synthesis model.
func (c *Council) Chairman() string {
	return c.chairman
}

// Stage1CollectResponses collects individual responses from all council models.
// Models that fail are dropped; zero successes yields an empty, non-nil slice.
func (c *Council) Stage1CollectResponses(ctx context.Context, state CouncilState) StateUpdate {
	messages := []ChatMessage{
		{Role: "user", Content: state.UserQuery},
	}

	responses := DispatchParallel(ctx, c.invoker, c.models, messages)

	stage1Results := make([]Stage1Response, 0, len(responses))
	for _, response := range responses {
		if response.OK() {
			stage1Results = append(stage1Results, Stage1Response{
				Model:    response.Model,
				Response: response.Content,
			})
		}
	}

	log.Printf("[%s] Stage 1: %d/%d models responded", state.RunID, len(stage1Results), len(c.models))

	return StateUpdate{Stage1Results: stage1Results}
}

// AnonymizeResponses assigns letters to Stage 1 results by position and returns
// the labels together with the "Response X" -> model map. Results past the
// 26th are not labeled.
func AnonymizeResponses(stage1Results []Stage1Response) ([]string, map[string]string) {
	n := min(len(stage1Results), MaxCouncilSize)

	labels := make([]string, 0, n)
	labelToModel := make(map[string]string, n)
	for i := 0; i < n; i++ {
		label := string(rune('A' + i))
		labels = append(labels, label)
		labelToModel[LabelKey(label)] = stage1Results[i].Model
	}

	return labels, labelToModel
}

// BuildRankingPrompt renders the peer-review prompt. labels[i] names stage1Results[i].
func BuildRankingPrompt(userQuery string, labels []string, stage1Results []Stage1Response) string {
	var responsesText strings.Builder
	for i, label := range labels {
		fmt.Fprintf(&responsesText, "%s:\n%s\n\n", LabelKey(label), stage1Results[i].Response)
	}

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`, userQuery, responsesText.String())
}

// Stage2CollectRankings has every council model rank the anonymized Stage 1
// responses, then aggregates the parsed rankings into the metadata.
// With no Stage 1 results it invokes nothing and flags the absence.
func (c *Council) Stage2CollectRankings(ctx context.Context, state CouncilState) StateUpdate {
	if len(state.Stage1Results) == 0 {
		return StateUpdate{
			Stage2Results: []Stage2Ranking{},
			LabelToModel:  map[string]string{},
			Metadata: &Metadata{
				LabelToModel:      map[string]string{},
				AggregateRankings: []AggregateRanking{},
				Error:             NoStage1ResultsMessage,
			},
		}
	}

	if len(state.Stage1Results) > MaxCouncilSize {
		log.Printf("[%s] Stage 2: only the first %d of %d responses can be labeled", state.RunID, MaxCouncilSize, len(state.Stage1Results))
	}

	labels, labelToModel := AnonymizeResponses(state.Stage1Results)

	messages := []ChatMessage{
		{Role: "user", Content: BuildRankingPrompt(state.UserQuery, labels, state.Stage1Results)},
	}

	responses := DispatchParallel(ctx, c.invoker, c.models, messages)

	stage2Results := make([]Stage2Ranking, 0, len(responses))
	for _, response := range responses {
		if !response.OK() {
			continue
		}
		parsed := ParseRankingFromText(response.Content)
		if len(parsed) == 0 {
			log.Printf("[%s] Stage 2: no parseable ranking from %s", state.RunID, response.Model)
		}
		stage2Results = append(stage2Results, Stage2Ranking{
			Model:         response.Model,
			Ranking:       response.Content,
			ParsedRanking: parsed,
		})
	}

	aggregate := CalculateAggregateRankings(stage2Results, labelToModel)

	log.Printf("[%s] Stage 2: %d/%d rankings collected", state.RunID, len(stage2Results), len(c.models))

	return StateUpdate{
		Stage2Results: stage2Results,
		LabelToModel:  labelToModel,
		Metadata: &Metadata{
			LabelToModel:      labelToModel,
			AggregateRankings: aggregate,
		},
	}
}

// BuildChairmanPrompt renders the synthesis prompt from every Stage 1 answer and
// every raw Stage 2 ranking.
func BuildChairmanPrompt(userQuery string, stage1Results []Stage1Response, stage2Results []Stage2Ranking) string {
	var stage1Text strings.Builder
	for _, result := range stage1Results {
		fmt.Fprintf(&stage1Text, "Model: %s\nResponse: %s\n\n", result.Model, result.Response)
	}

	var stage2Text strings.Builder
	for _, result := range stage2Results {
		fmt.Fprintf(&stage2Text, "Model: %s\nRanking: %s\n\n", result.Model, result.Ranking)
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`, userQuery, stage1Text.String(), stage2Text.String())
}

// Stage3SynthesizeFinal asks the chairman for the final answer. It never fails:
// missing input or a chairman error produce sentinel results.
func (c *Council) Stage3SynthesizeFinal(ctx context.Context, state CouncilState) StateUpdate {
	if len(state.Stage1Results) == 0 {
		return StateUpdate{
			Stage3Result: &Stage3Response{Model: ErrorModelTag, Response: NoResponsesMessage},
		}
	}

	messages := []ChatMessage{
		{Role: "user", Content: BuildChairmanPrompt(state.UserQuery, state.Stage1Results, state.Stage2Results)},
	}

	content, err := c.invoker.Invoke(ctx, c.chairman, messages)
	if err != nil {
		log.Printf("[%s] Stage 3: chairman %s failed: %v", state.RunID, c.chairman, err)
		return StateUpdate{
			Stage3Result: &Stage3Response{Model: c.chairman, Response: SynthesisFailedMessage},
			Metadata:     &Metadata{Error: fmt.Sprintf("chairman model query failed: %v", err)},
		}
	}

	return StateUpdate{
		Stage3Result: &Stage3Response{Model: c.chairman, Response: content},
	}
}

// Apply merges a stage's update into the state.
func (s *CouncilState) Apply(u StateUpdate) {
	if u.Stage1Results != nil {
		s.Stage1Results = u.Stage1Results
	}
	if u.Stage2Results != nil {
		s.Stage2Results = u.Stage2Results
	}
	if u.LabelToModel != nil {
		s.LabelToModel = u.LabelToModel
	}
	if u.Stage3Result != nil {
		s.Stage3Result = *u.Stage3Result
	}
	if u.Metadata != nil {
		if u.Metadata.LabelToModel != nil {
			s.Metadata.LabelToModel = u.Metadata.LabelToModel
		}
		if u.Metadata.AggregateRankings != nil {
			s.Metadata.AggregateRankings = u.Metadata.AggregateRankings
		}
		if u.Metadata.Error != "" {
			if s.Metadata.Error != "" {
				s.Metadata.Error += "; " + u.Metadata.Error
			} else {
				s.Metadata.Error = u.Metadata.Error
			}
		}
	}
}

// Run executes the full council for userQuery. It always returns a state;
// degraded runs are described by sentinel results and Metadata.Error.
func (c *Council) Run(ctx context.Context, userQuery string) CouncilState {
	return c.RunWithObserver(ctx, userQuery, nil)
}

// RunWithObserver is Run with stage notifications.
func (c *Council) RunWithObserver(ctx context.Context, userQuery string, observe StageObserver) CouncilState {
	state := CouncilState{
		RunID:     uuid.New().String(),
		UserQuery: userQuery,
	}

	stages := []struct {
		name string
		run  func(context.Context, CouncilState) StateUpdate
	}{
		{StageOne, c.Stage1CollectResponses},
		{StageTwo, c.Stage2CollectRankings},
		{StageThree, c.Stage3SynthesizeFinal},
	}

	for _, stage := range stages {
		if observe != nil {
			observe(stage.name, true, state)
		}
		state.Apply(stage.run(ctx, state))
		if observe != nil {
			observe(stage.name, false, state)
		}
	}

	log.Printf("[%s] Council complete: chairman=%s ranking=%q", state.RunID, state.Stage3Result.Model,
		FormatAggregateRankings(state.Metadata.AggregateRankings))

	return state
}

// GenerateConversationTitle generates a short title for a conversation.
// Uses the fast title model to create a 3-5 word summary of the user's query.
func (c *Council) GenerateConversationTitle(ctx context.Context, userQuery string) (string, error) {
	titlePrompt := fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)

	messages := []ChatMessage{
		{Role: "user", Content: titlePrompt},
	}

	ctx, cancel := context.WithTimeout(ctx, TitleGenTimeout)
	defer cancel()

	response, err := c.invoker.Invoke(ctx, c.titleModel, messages)
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title := strings.TrimSpace(response)

	// Clean up the title - remove quotes
	title = strings.Trim(title, "\"'")

	// Truncate by characters, not bytes
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength-3]) + "..."
	}

	return title, nil
}
