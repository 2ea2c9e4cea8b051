package llm

import "context"

// Request 描述一次发给大模型的发言任务上下文。
type Request struct {
	AgentName    string
	AgentRole    string
	SocialHandle string
	Topic        string
	History      []HistoryEntry
	Analyses     []AnalysisCard
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// HistoryEntry 描述当天已有的一段发言，为大模型提供讨论记忆。
type HistoryEntry struct {
	AgentName string
	Response  string
}

// AnalysisCard 表示提供给大模型的代币分析摘要。
type AnalysisCard struct {
	Token   string
	Summary string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
