package domain

import "sort"

// SortKey selects how tree levels are ordered when rendered.
type SortKey string

const (
	// SortBySpeakers orders by distinct-speaker count, descending.
	SortBySpeakers SortKey = "speakers"
	// SortByClaims orders by raw claim count, descending.
	SortByClaims SortKey = "claims"
)

// SubtopicNode holds the claims folded into one subtopic.
type SubtopicNode struct {
	// Total counts claims in this subtopic, including duplicates folded into
	// grouped claims.
	Total  int     `json:"total"`
	Claims []Claim `json:"claims"`
}

// TopicNode holds one topic's subtopics. Total equals the sum of subtopic totals.
type TopicNode struct {
	Total     int                      `json:"total"`
	Subtopics map[string]*SubtopicNode `json:"subtopics"`
}

// ResultTree is the taxonomy-shaped aggregation of claims produced by a stage.
// Every taxonomy topic and subtopic is present even with zero claims, so empty
// categories remain visible in reports.
type ResultTree struct {
	Topics map[string]*TopicNode `json:"topics"`

	// topicOrder and subtopicOrder preserve taxonomy encounter order for
	// deterministic iteration and sort tie-breaking.
	topicOrder    []string
	subtopicOrder map[string][]string
}

// NewResultTree builds a tree pre-seeded with every topic and subtopic of the
// taxonomy at zero count.
func NewResultTree(taxonomy Taxonomy) *ResultTree {
	tree := &ResultTree{
		Topics:        make(map[string]*TopicNode, len(taxonomy)),
		subtopicOrder: make(map[string][]string, len(taxonomy)),
	}
	for _, topic := range taxonomy {
		node := &TopicNode{Subtopics: make(map[string]*SubtopicNode, len(topic.Subtopics))}
		for _, sub := range topic.Subtopics {
			node.Subtopics[sub.Name] = &SubtopicNode{Claims: []Claim{}}
			tree.subtopicOrder[topic.Name] = append(tree.subtopicOrder[topic.Name], sub.Name)
		}
		tree.Topics[topic.Name] = node
		tree.topicOrder = append(tree.topicOrder, topic.Name)
	}
	return tree
}

// Insert adds a claim under its topic/subtopic. It returns false when the
// claim's categories are not part of the tree; callers decide whether that is
// a dropped-with-warning condition or a bug.
func (t *ResultTree) Insert(claim Claim) bool {
	topic, ok := t.Topics[claim.TopicName]
	if !ok {
		return false
	}
	sub, ok := topic.Subtopics[claim.SubtopicName]
	if !ok {
		return false
	}
	sub.Claims = append(sub.Claims, claim)
	weight := 1 + len(claim.Duplicates)
	sub.Total += weight
	topic.Total += weight
	return true
}

// TotalClaims returns the claim count across all topics.
func (t *ResultTree) TotalClaims() int {
	total := 0
	for _, topic := range t.Topics {
		total += topic.Total
	}
	return total
}

// AllClaims returns every claim in taxonomy order.
func (t *ResultTree) AllClaims() []Claim {
	var claims []Claim
	for _, topicName := range t.topicOrder {
		for _, subName := range t.subtopicOrder[topicName] {
			claims = append(claims, t.Topics[topicName].Subtopics[subName].Claims...)
		}
	}
	return claims
}

// TopicNames returns topic names ordered by the sort key, strictly descending,
// with ties broken by taxonomy encounter order.
func (t *ResultTree) TopicNames(key SortKey) []string {
	names := make([]string, len(t.topicOrder))
	copy(names, t.topicOrder)
	sort.SliceStable(names, func(i, j int) bool {
		return t.topicWeight(names[i], key) > t.topicWeight(names[j], key)
	})
	return names
}

// SubtopicNames returns the topic's subtopic names ordered by the sort key,
// strictly descending, with ties broken by taxonomy encounter order.
func (t *ResultTree) SubtopicNames(topicName string, key SortKey) []string {
	order := t.subtopicOrder[topicName]
	names := make([]string, len(order))
	copy(names, order)
	sort.SliceStable(names, func(i, j int) bool {
		return t.subtopicWeight(topicName, names[i], key) > t.subtopicWeight(topicName, names[j], key)
	})
	return names
}

func (t *ResultTree) topicWeight(topicName string, key SortKey) int {
	topic := t.Topics[topicName]
	if topic == nil {
		return 0
	}
	if key == SortByClaims {
		return topic.Total
	}
	speakers := make(map[string]bool)
	for _, sub := range topic.Subtopics {
		for _, claim := range sub.Claims {
			for s := range claim.Speakers() {
				speakers[s] = true
			}
		}
	}
	return len(speakers)
}

func (t *ResultTree) subtopicWeight(topicName, subName string, key SortKey) int {
	topic := t.Topics[topicName]
	if topic == nil {
		return 0
	}
	sub := topic.Subtopics[subName]
	if sub == nil {
		return 0
	}
	if key == SortByClaims {
		return sub.Total
	}
	speakers := make(map[string]bool)
	for _, claim := range sub.Claims {
		for s := range claim.Speakers() {
			speakers[s] = true
		}
	}
	return len(speakers)
}
