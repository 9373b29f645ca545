// Package rag 组合检索结果与对话历史，调用生成服务回答知识库问题。
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

const (
	DefaultTopK    = 3
	DefaultTimeout = 60 * time.Second
)

// Retriever 是 Composer 读取知识库所需的最小接口。
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]model.ScoredChunk, error)
	Size(ctx context.Context) int
}

// Generator 根据系统指令和对话生成回复。
type Generator interface {
	Generate(ctx context.Context, directive string, turns []model.Turn) (string, error)
}

// Messages 是固定的面向用户的回复。
type Messages struct {
	EmptyKnowledgeBase  string
	NoRelevantDocuments string
	Failure             string
}

// DefaultMessages 在配置缺失时使用。
var DefaultMessages = Messages{
	EmptyKnowledgeBase:  "Your knowledge base is empty. Upload a PDF, TXT or MD document first, then ask again.",
	NoRelevantDocuments: "I could not find anything relevant to your question in the uploaded documents.",
	Failure:             "Sorry, something went wrong while searching your documents. Please try again.",
}

// Prompt 控制系统指令的结构：规则 + 参考资料包裹符 + 回答要求。
type Prompt struct {
	Rules        string
	RefStart     string
	RefEnd       string
	Instructions string
}

// DefaultPrompt 在配置缺失时使用。
var DefaultPrompt = Prompt{
	Rules:    "You are a study assistant that answers questions using the user's own documents.",
	RefStart: "<<REF>>",
	RefEnd:   "<<END>>",
	Instructions: "Answer only from the reference material above. Cite the sources you used as [Source N]. " +
		"If the material does not contain the answer, say so explicitly.",
}

// Outcome 标识 Respond 走到了状态机的哪个出口。
type Outcome int

const (
	OutcomeAnswered Outcome = iota
	OutcomeEmptyKnowledgeBase
	OutcomeNoResults
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeEmptyKnowledgeBase:
		return "empty_knowledge_base"
	case OutcomeNoResults:
		return "no_results"
	default:
		return "failed"
	}
}

// Response 是一次知识库问答的结果。
type Response struct {
	Text    string
	Outcome Outcome
	Sources []model.ScoredChunk
}

// Composer 不访问会话存储，历史由调用方传入。
type Composer struct {
	index    Retriever
	gen      Generator
	topK     int
	timeout  time.Duration
	messages Messages
	prompt   Prompt
}

// Option 配置 Composer。
type Option func(*Composer)

func WithTopK(k int) Option {
	return func(c *Composer) {
		if k > 0 {
			c.topK = k
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMessages 覆盖固定回复，空字段保留默认值。
func WithMessages(m Messages) Option {
	return func(c *Composer) {
		if m.EmptyKnowledgeBase != "" {
			c.messages.EmptyKnowledgeBase = m.EmptyKnowledgeBase
		}
		if m.NoRelevantDocuments != "" {
			c.messages.NoRelevantDocuments = m.NoRelevantDocuments
		}
		if m.Failure != "" {
			c.messages.Failure = m.Failure
		}
	}
}

// WithPrompt 覆盖系统指令，空字段保留默认值。
func WithPrompt(p Prompt) Option {
	return func(c *Composer) {
		if p.Rules != "" {
			c.prompt.Rules = p.Rules
		}
		if p.RefStart != "" {
			c.prompt.RefStart = p.RefStart
		}
		if p.RefEnd != "" {
			c.prompt.RefEnd = p.RefEnd
		}
		if p.Instructions != "" {
			c.prompt.Instructions = p.Instructions
		}
	}
}

// NewComposer 创建一个新的 Composer 实例。
func NewComposer(index Retriever, gen Generator, opts ...Option) *Composer {
	c := &Composer{
		index:    index,
		gen:      gen,
		topK:     DefaultTopK,
		timeout:  DefaultTimeout,
		messages: DefaultMessages,
		prompt:   DefaultPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Answer 返回回复文本，所有失败都转换成固定文案。
func (c *Composer) Answer(ctx context.Context, query string, history []model.Turn) string {
	return c.Respond(ctx, query, history).Text
}

// Respond 执行完整流程：判空 -> 检索 -> 构建上下文与指令 -> 生成。
func (c *Composer) Respond(ctx context.Context, query string, history []model.Turn) Response {
	// 1. 知识库为空时不调用生成服务
	if c.index.Size(ctx) == 0 {
		return Response{Text: c.messages.EmptyKnowledgeBase, Outcome: OutcomeEmptyKnowledgeBase}
	}

	// 2. 检索
	hits, err := c.index.Search(ctx, query, c.topK)
	if err != nil {
		log.Errorf("[Composer] 检索失败, error: %v", err)
		return Response{Text: c.messages.Failure, Outcome: OutcomeFailed}
	}
	if len(hits) == 0 {
		return Response{Text: c.messages.NoRelevantDocuments, Outcome: OutcomeNoResults}
	}

	// 3. 构建上下文与系统指令
	directive := c.BuildDirective(BuildContext(hits))

	// 4. 在历史副本上追加本次问题，不修改调用方的切片
	turns := make([]model.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, model.Turn{Role: model.RoleUser, Content: query})

	// 5. 调用生成服务（带超时）
	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	text, err := c.gen.Generate(genCtx, directive, turns)
	if err != nil {
		log.Errorf("[Composer] 生成回复失败, error: %v", err)
		return Response{Text: c.messages.Failure, Outcome: OutcomeFailed, Sources: hits}
	}
	log.Infow("[Composer] 知识库问答完成", "hits", len(hits), "historyTurns", len(history), "answerLen", len(text))
	return Response{Text: text, Outcome: OutcomeAnswered, Sources: hits}
}

// BuildContext 按相关度从高到低拼接检索结果，每段带来源标记。
func BuildContext(hits []model.ScoredChunk) string {
	var b strings.Builder
	for i, h := range hits {
		source := h.Chunk.Source
		if source == "" {
			source = "unknown"
		}
		if h.Chunk.Page > 0 {
			source = fmt.Sprintf("%s, page %d", source, h.Chunk.Page)
		}
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n\n", i+1, source, h.Chunk.Text)
	}
	return b.String()
}

// BuildDirective 生成系统指令。
func (c *Composer) BuildDirective(contextText string) string {
	var sys strings.Builder
	if c.prompt.Rules != "" {
		sys.WriteString(c.prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(c.prompt.RefStart)
	sys.WriteString("\n")
	sys.WriteString(contextText)
	sys.WriteString(c.prompt.RefEnd)
	if c.prompt.Instructions != "" {
		sys.WriteString("\n\n")
		sys.WriteString(c.prompt.Instructions)
	}
	return sys.String()
}
