package main

import "time"

// Message represents a single message in a conversation
type Message struct {
	Role     string           `json:"role"`
	Content  string           `json:"content,omitempty"`
	Stage1   []Stage1Response `json:"stage1,omitempty"`
	Stage2   []Stage2Ranking  `json:"stage2,omitempty"`
	Stage3   *Stage3Response  `json:"stage3,omitempty"`
	Metadata *Metadata        `json:"metadata,omitempty"`
}

// Conversation represents a full conversation with all messages
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// ConversationMetadata represents conversation list metadata
type ConversationMetadata struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

// Stage1Response represents a single model's response in Stage 1
type Stage1Response struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// Stage2Ranking represents a model's ranking of the anonymized responses.
// ParsedRanking holds bare labels ("A", "B", ...) in best-to-worst order and is
// empty when the ranking text could not be parsed.
type Stage2Ranking struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
}

// Stage3Response represents the chairman's final synthesis
type Stage3Response struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// AggregateRanking is one entry of the consensus ordering.
// AverageRank is the score (lower is better); RankingsCount is how many
// rankers explicitly placed this model.
type AggregateRanking struct {
	Model         string  `json:"model"`
	Label         string  `json:"label"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// Metadata contains additional information about the council process
type Metadata struct {
	LabelToModel      map[string]string  `json:"label_to_model"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
	Error             string             `json:"error,omitempty"`
}

// ChatMessage is the unit sent to a model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DispatchResult is one model's outcome within a parallel dispatch.
// Exactly one of Content or Err is meaningful.
type DispatchResult struct {
	Model   string
	Content string
	Err     error
}

// OK reports whether the invocation produced content.
func (r DispatchResult) OK() bool {
	return r.Err == nil
}

// CouncilState is the record threaded through the three stages.
// Only the workflow driver mutates it; stages read a copy and return a StateUpdate.
type CouncilState struct {
	RunID         string            `json:"run_id"`
	UserQuery     string            `json:"user_query"`
	Stage1Results []Stage1Response  `json:"stage1"`
	Stage2Results []Stage2Ranking   `json:"stage2"`
	LabelToModel  map[string]string `json:"label_to_model"`
	Stage3Result  Stage3Response    `json:"stage3"`
	Metadata      Metadata          `json:"metadata"`
}

// StateUpdate is the partial result of one stage. Nil fields are left untouched
// when merged into a CouncilState.
type StateUpdate struct {
	Stage1Results []Stage1Response
	Stage2Results []Stage2Ranking
	LabelToModel  map[string]string
	Stage3Result  *Stage3Response
	Metadata      *Metadata
}

// SendMessageRequest represents a request to send a message.
// ContextURL optionally names a page whose text is given to the council
// alongside the question.
type SendMessageRequest struct {
	Content    string `json:"content" binding:"required"`
	ContextURL string `json:"context_url,omitempty"`
}

// SendMessageResponse represents the response after sending a message
type SendMessageResponse struct {
	Stage1   []Stage1Response `json:"stage1"`
	Stage2   []Stage2Ranking  `json:"stage2"`
	Stage3   Stage3Response   `json:"stage3"`
	Metadata Metadata         `json:"metadata"`
}
