package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// activeCouncil is the council used by the HTTP handlers
var activeCouncil *Council

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "llm-council",
		Short:        "Ask a council of LLMs, have them rank each other, and synthesize one answer",
		SilenceUsage: true,
	}

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadConfig(); err != nil {
				return err
			}
			activeCouncil = NewCouncilFromConfig()

			log.Printf("Starting LLM Council backend on %s...", serveAddr)
			return NewRouter().Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", ":8001", "listen address")

	var contextURL string
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one council on a question and print the final answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadConfig(); err != nil {
				return err
			}
			question := strings.Join(args, " ")
			if err := ValidateQuery(question); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			query := PrepareQuery(ctx, SendMessageRequest{Content: question, ContextURL: contextURL})

			state := NewCouncilFromConfig().Run(ctx, query)
			printCouncilState(cmd, state)
			return nil
		},
	}
	ask.Flags().StringVar(&contextURL, "context-url", "", "web page to give the council as reference material")

	root.AddCommand(serve, ask)
	return root
}

func printCouncilState(cmd *cobra.Command, state CouncilState) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Answer (%s):\n%s\n\n", state.Stage3Result.Model, state.Stage3Result.Response)
	fmt.Fprintf(out, "Aggregate ranking:\n%s\n", FormatAggregateRankings(state.Metadata.AggregateRankings))
	if state.Metadata.Error != "" {
		fmt.Fprintf(out, "\nNotes: %s\n", state.Metadata.Error)
	}
}

// NewRouter wires the API routes and middleware.
func NewRouter() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", healthCheck)
	router.GET("/api/conversations", listConversationsHandler)
	router.POST("/api/conversations", createConversationHandler)
	router.GET("/api/conversations/:id", getConversationHandler)
	router.POST("/api/conversations/:id/message", sendMessageHandler)
	router.POST("/api/conversations/:id/message/stream", sendMessageStreamHandler)
	router.POST("/api/fetch-url", fetchURLHandler)

	return router
}

// allowOrigin accepts configured origins, or any localhost origin when none are configured.
func allowOrigin(origin string) bool {
	if len(CORSAllowedOrigins) > 0 && CORSAllowedOrigins[0] != "" {
		for _, allowedOrigin := range CORSAllowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}
		return false
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0")
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
	})
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func listConversationsHandler(c *gin.Context) {
	conversations, err := ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new conversation.
// POST /api/conversations - Generates a new UUID and creates an empty conversation.
func createConversationHandler(c *gin.Context) {
	conversation, err := CreateConversation(uuid.New().String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// loadConversation writes the error response and returns nil when the
// conversation cannot be used.
func loadConversation(c *gin.Context, conversationID string) *Conversation {
	conversation, err := GetConversation(conversationID)
	if errors.Is(err, ErrInvalidConversationID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return nil
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return nil
	}
	return conversation
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all messages.
func getConversationHandler(c *gin.Context) {
	conversation := loadConversation(c, c.Param("id"))
	if conversation == nil {
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// bindMessageRequest parses and validates a message body, writing a 400 on failure.
func bindMessageRequest(c *gin.Context) (SendMessageRequest, bool) {
	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return request, false
	}
	if err := ValidateQuery(request.Content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return request, false
	}
	return request, true
}

// generateTitle names a new conversation in the background, falling back to
// the default title. The title is sent on the returned channel, which is closed
// when done.
func generateTitle(conversationID string, content string) <-chan string {
	titleChan := make(chan string, 1)
	go func() {
		defer close(titleChan)

		title, err := activeCouncil.GenerateConversationTitle(context.Background(), content)
		if err != nil {
			log.Printf("Failed to generate title: %v", err)
			title = "New Conversation"
		}
		if err := UpdateConversationTitle(conversationID, title); err != nil {
			log.Printf("Failed to update title: %v", err)
			return
		}
		titleChan <- title
	}()
	return titleChan
}

// sendMessageHandler sends a message and runs the 3-stage council process.
// POST /api/conversations/:id/message - Runs full council and returns all stages at once.
// Use sendMessageStreamHandler for SSE streaming version.
func sendMessageHandler(c *gin.Context) {
	conversationID := c.Param("id")

	request, ok := bindMessageRequest(c)
	if !ok {
		return
	}

	conversation := loadConversation(c, conversationID)
	if conversation == nil {
		return
	}

	isFirstMessage := len(conversation.Messages) == 0

	if err := AddUserMessage(conversationID, request.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add user message: %v", err),
		})
		return
	}

	var titleChan <-chan string
	if isFirstMessage {
		titleChan = generateTitle(conversationID, request.Content)
	}

	ctx := c.Request.Context()
	state := activeCouncil.Run(ctx, PrepareQuery(ctx, request))

	// The title is stored before the response goes out
	if titleChan != nil {
		<-titleChan
	}

	if err := AddAssistantMessage(conversationID, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add assistant message: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, SendMessageResponse{
		Stage1:   state.Stage1Results,
		Stage2:   state.Stage2Results,
		Stage3:   state.Stage3Result,
		Metadata: state.Metadata,
	})
}

// sendMessageStreamHandler sends a message and streams the 3-stage council process via SSE.
// POST /api/conversations/:id/message/stream - Streams progress events as each stage completes.
// Events: stage1_start, stage1_complete, stage2_start, stage2_complete, stage3_start,
// stage3_complete, title_complete, complete.
func sendMessageStreamHandler(c *gin.Context) {
	conversationID := c.Param("id")

	request, ok := bindMessageRequest(c)
	if !ok {
		return
	}

	conversation := loadConversation(c, conversationID)
	if conversation == nil {
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	isFirstMessage := len(conversation.Messages) == 0

	if err := AddUserMessage(conversationID, request.Content); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to add user message: %v", err))
		return
	}

	var titleChan <-chan string
	if isFirstMessage {
		titleChan = generateTitle(conversationID, request.Content)
	}

	ctx := c.Request.Context()
	state := activeCouncil.RunWithObserver(ctx, PrepareQuery(ctx, request), func(stage string, started bool, state CouncilState) {
		if started {
			sendSSEEvent(c, gin.H{"type": stage + "_start"})
			return
		}

		switch stage {
		case StageOne:
			sendSSEEvent(c, gin.H{"type": "stage1_complete", "data": state.Stage1Results})
		case StageTwo:
			sendSSEEvent(c, gin.H{
				"type":     "stage2_complete",
				"data":     state.Stage2Results,
				"metadata": state.Metadata,
			})
		case StageThree:
			sendSSEEvent(c, gin.H{"type": "stage3_complete", "data": state.Stage3Result})
		}
	})

	// Wait for title if it was being generated
	if titleChan != nil {
		if title, ok := <-titleChan; ok && title != "" {
			sendSSEEvent(c, gin.H{"type": "title_complete", "data": gin.H{"title": title}})
		}
	}

	if err := AddAssistantMessage(conversationID, state); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to save message: %v", err))
		return
	}

	sendSSEEvent(c, gin.H{"type": "complete", "metadata": state.Metadata})
}

// sendSSEEvent sends a Server-Sent Event.
// Marshals data to JSON and writes as SSE format with "data: " prefix.
func sendSSEEvent(c *gin.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", string(jsonData)))
	c.Writer.Flush()
}

// sendSSEError sends an error event via SSE.
func sendSSEError(c *gin.Context, message string) {
	sendSSEEvent(c, gin.H{"type": "error", "message": message})
}

// fetchURLHandler fetches and extracts content from a given URL
// POST /api/fetch-url - Body: {"url": "https://..."}
func fetchURLHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	content, err := FetchContextCached(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content": content,
	})
}
