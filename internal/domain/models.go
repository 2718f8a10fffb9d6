// Package domain defines the core types shared across the report pipeline:
// comments, taxonomies, extracted claims, result trees, and usage accounting.
package domain

import "strings"

// Comment is a single piece of source input submitted for analysis.
type Comment struct {
	// ID uniquely identifies the comment within a job.
	ID string `json:"id"`
	// SpeakerID identifies the author. Multiple comments may share a speaker.
	SpeakerID string `json:"speaker_id"`
	// Text is the raw comment body.
	Text string `json:"text"`
}

// Subtopic is a leaf category in the taxonomy.
type Subtopic struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Topic is a top-level category with an ordered list of subtopics.
type Topic struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Subtopics   []Subtopic `json:"subtopics"`
}

// Taxonomy is the ordered topic/subtopic hierarchy that extracted claims must
// classify into. Names are unique within their scope.
type Taxonomy []Topic

// HasSubtopic reports whether the taxonomy contains the given topic/subtopic pair.
func (t Taxonomy) HasSubtopic(topicName, subtopicName string) bool {
	for _, topic := range t {
		if topic.Name != topicName {
			continue
		}
		for _, sub := range topic.Subtopics {
			if sub.Name == subtopicName {
				return true
			}
		}
		return false
	}
	return false
}

// Validate checks structural requirements: at least one topic, every topic has
// at least one subtopic, and names are unique within their scope.
func (t Taxonomy) Validate() error {
	if len(t) == 0 {
		return NewValidationError("taxonomy", "must contain at least one topic")
	}
	topicNames := make(map[string]bool, len(t))
	for _, topic := range t {
		if strings.TrimSpace(topic.Name) == "" {
			return NewValidationError("taxonomy", "topic name must not be empty")
		}
		if topicNames[topic.Name] {
			return NewValidationError("taxonomy", "duplicate topic name: "+topic.Name)
		}
		topicNames[topic.Name] = true
		if len(topic.Subtopics) == 0 {
			return NewValidationError("taxonomy", "topic "+topic.Name+" has no subtopics")
		}
		subNames := make(map[string]bool, len(topic.Subtopics))
		for _, sub := range topic.Subtopics {
			if strings.TrimSpace(sub.Name) == "" {
				return NewValidationError("taxonomy", "subtopic name must not be empty in topic "+topic.Name)
			}
			if subNames[sub.Name] {
				return NewValidationError("taxonomy", "duplicate subtopic name in topic "+topic.Name+": "+sub.Name)
			}
			subNames[sub.Name] = true
		}
	}
	return nil
}

// Claim is a single assertion extracted from a comment, classified into the
// taxonomy. After deduplication a claim may carry near-duplicate claims from
// other comments.
type Claim struct {
	// Text is the normalized claim statement.
	Text string `json:"text"`
	// Quote is the verbatim supporting excerpt from the source comment.
	Quote string `json:"quote,omitempty"`
	// TopicName and SubtopicName locate the claim in the taxonomy.
	TopicName    string `json:"topic_name"`
	SubtopicName string `json:"subtopic_name"`
	// SpeakerID and CommentID identify the claim's origin.
	SpeakerID string `json:"speaker_id"`
	CommentID string `json:"comment_id"`
	// Duplicates holds claims folded into this one by the deduplication stage.
	Duplicates []Claim `json:"duplicates,omitempty"`
}

// Speakers returns the distinct speaker IDs behind this claim, including its
// duplicates. Empty speaker IDs are ignored.
func (c Claim) Speakers() map[string]bool {
	speakers := make(map[string]bool, 1+len(c.Duplicates))
	if c.SpeakerID != "" {
		speakers[c.SpeakerID] = true
	}
	for _, d := range c.Duplicates {
		if d.SpeakerID != "" {
			speakers[d.SpeakerID] = true
		}
	}
	return speakers
}

// Usage is aggregated token consumption across one or more LLM calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// TopicSummary is the per-topic narrative produced by the summarization stage.
type TopicSummary struct {
	TopicName string `json:"topic_name"`
	Summary   string `json:"summary"`
}
