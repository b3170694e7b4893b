package nl2sql

import (
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/retrieval"
)

// AgentType selects the instruction template of a prompt.
type AgentType int

const (
	AgentDefault AgentType = iota
	AgentGenerate
	AgentExplain
	AgentLongAnswer
)

// ParseAgentType maps a wire value to an AgentType. Unknown and empty values
// map to AgentDefault.
func ParseAgentType(raw string) AgentType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "generate":
		return AgentGenerate
	case "explain":
		return AgentExplain
	case "long_answer", "long-answer":
		return AgentLongAnswer
	default:
		return AgentDefault
	}
}

func (a AgentType) String() string {
	switch a {
	case AgentGenerate:
		return "generate"
	case AgentExplain:
		return "explain"
	case AgentLongAnswer:
		return "long_answer"
	default:
		return "default"
	}
}

func (a AgentType) instructions() string {
	switch a {
	case AgentGenerate:
		return `You are a senior analytics engineer. Write one SQL query that answers the question.
Use only the schema below and follow every dialect requirement.
Return the query in a single ` + "```sql" + ` code block and nothing else.`
	case AgentExplain:
		return `You are a patient SQL teacher. Answer the question with a SQL query in a ` + "```sql" + ` code block,
then explain step by step what each clause does and why the tables and joins were chosen.`
	case AgentLongAnswer:
		return `You are a thorough data analyst. Answer the question exhaustively: state your assumptions,
give the SQL query in a ` + "```sql" + ` code block, describe the expected result shape,
list edge cases in the data and suggest follow-up queries.`
	default:
		return `You answer questions about the warehouse data. Reply in two to three sentences.
If a query is needed, include it in a ` + "```sql" + ` code block.`
	}
}

const defaultMaxTurns = 5

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptContext holds the sections of one prompt. It lives for one request.
type PromptContext struct {
	SchemaSection  string
	ContextSection string
	FullPrompt     string
}

type PromptBuilder struct {
	maxTurns int
}

// NewPromptBuilder keeps the last maxTurns conversation turns; values <= 0
// use 5.
func NewPromptBuilder(maxTurns int) *PromptBuilder {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &PromptBuilder{maxTurns: maxTurns}
}

func (p *PromptBuilder) Build(question, schemaText string, examples []retrieval.Document, turns []Turn, agent AgentType) PromptContext {
	pc := PromptContext{
		SchemaSection:  strings.TrimSpace(schemaText),
		ContextSection: p.contextSection(turns),
	}

	var b strings.Builder
	b.WriteString(agent.instructions())
	if pc.SchemaSection != "" {
		b.WriteString("\n\n")
		b.WriteString(pc.SchemaSection)
	}
	if len(examples) > 0 {
		b.WriteString("\n\nSimilar questions and their SQL:")
		for i, doc := range examples {
			fmt.Fprintf(&b, "\n\nExample %d:\n%s", i+1, strings.TrimSpace(doc.Content))
		}
	}
	if pc.ContextSection != "" {
		b.WriteString("\n\nConversation so far:\n")
		b.WriteString(pc.ContextSection)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	pc.FullPrompt = b.String()
	return pc
}

// contextSection renders the most recent turns as ROLE: content lines. Older
// turns are dropped.
func (p *PromptBuilder) contextSection(turns []Turn) string {
	if len(turns) > p.maxTurns {
		turns = turns[len(turns)-p.maxTurns:]
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := strings.ToUpper(strings.TrimSpace(turn.Role))
		if role == "" {
			role = "USER"
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}
