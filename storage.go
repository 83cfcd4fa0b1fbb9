package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidConversationID is returned for IDs that cannot name a file in DataDir.
var ErrInvalidConversationID = errors.New("invalid conversation ID")

// storageMu serializes read-modify-write cycles on conversation files.
// Plain reads need no lock: files are replaced by rename, never rewritten in place.
var storageMu sync.Mutex

const (
	conversationExt = ".json"
	tempFilePattern = ".conversation-*.tmp"
)

// ValidateConversationID rejects IDs that would escape the data directory.
func ValidateConversationID(conversationID string) error {
	if conversationID == "" || conversationID == "." || conversationID == ".." ||
		strings.ContainsAny(conversationID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, conversationID)
	}
	return nil
}

// EnsureDataDir creates DataDir if needed.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir, 0755)
}

// GetConversationPath returns the file holding a conversation.
func GetConversationPath(conversationID string) string {
	return filepath.Join(DataDir, conversationID+conversationExt)
}

// writeFileAtomic replaces path with data so readers see either the old or the new file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}

// readConversationFile decodes one stored conversation.
func readConversationFile(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conversation Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("failed to parse conversation JSON: %w", err)
	}
	return &conversation, nil
}

// CreateConversation stores an empty conversation under conversationID.
func CreateConversation(conversationID string) (*Conversation, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	conversation := &Conversation{
		ID:        conversationID,
		CreatedAt: time.Now().UTC(),
		Title:     "New Conversation",
		Messages:  []Message{},
	}
	if err := SaveConversation(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetConversation loads a conversation. A missing conversation is (nil, nil).
func GetConversation(conversationID string) (*Conversation, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	conversation, err := readConversationFile(GetConversationPath(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	return conversation, nil
}

// SaveConversation writes a conversation as indented JSON.
func SaveConversation(conversation *Conversation) error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	if err := writeFileAtomic(GetConversationPath(conversation.ID), data); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", conversation.ID, err)
	}
	return nil
}

// ListConversations returns metadata for every readable conversation, newest
// first. Unreadable or malformed files are skipped.
func ListConversations() ([]ConversationMetadata, error) {
	if err := EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	// non-nil so an empty store encodes as []
	conversations := make([]ConversationMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != conversationExt {
			continue
		}

		conv, err := readConversationFile(filepath.Join(DataDir, name))
		if err != nil {
			continue
		}
		conversations = append(conversations, ConversationMetadata{
			ID:           conv.ID,
			CreatedAt:    conv.CreatedAt,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})
	return conversations, nil
}

// updateConversation applies change to a stored conversation under storageMu.
func updateConversation(conversationID string, change func(*Conversation)) error {
	storageMu.Lock()
	defer storageMu.Unlock()

	conversation, err := GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	change(conversation)
	return SaveConversation(conversation)
}

// AddUserMessage appends the question as asked by the user.
func AddUserMessage(conversationID string, content string) error {
	return updateConversation(conversationID, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, Message{Role: "user", Content: content})
	})
}

// AddAssistantMessage appends a finished council run: all three stages plus
// the label map, aggregate ranking and any degradation notes.
func AddAssistantMessage(conversationID string, state CouncilState) error {
	stage3 := state.Stage3Result
	metadata := state.Metadata

	return updateConversation(conversationID, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, Message{
			Role:     "assistant",
			Stage1:   state.Stage1Results,
			Stage2:   state.Stage2Results,
			Stage3:   &stage3,
			Metadata: &metadata,
		})
	})
}

// UpdateConversationTitle replaces the conversation's title.
func UpdateConversationTitle(conversationID string, title string) error {
	return updateConversation(conversationID, func(conv *Conversation) {
		conv.Title = title
	})
}
