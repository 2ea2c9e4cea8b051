// Package topics 为每个讨论回合提供议题来源。
package topics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
)

// Entry 描述一个候选议题。Roles 为空表示对所有角色开放。
type Entry struct {
	Topic string   `json:"topic"`
	Roles []string `json:"roles"`
	Tags  []string `json:"tags"`
}

// defaultEntries 在未配置议题库时兜底，保证调度器永远拿得到议题。
var defaultEntries = []Entry{
	{Topic: "当前市场里最值得关注的代币叙事是什么"},
	{Topic: "本周是否存在值得小仓位试探的交易机会"},
	{Topic: "链上流动性变化对短期价格意味着什么"},
	{Topic: "哪些代币的安全指标出现了值得警惕的变化"},
}

// StaticSource 通过加载 JSON 文件提供确定性的议题轮换。
type StaticSource struct {
	entries   []Entry
	maxTopics int
}

var _ deliberate.TopicSource = (*StaticSource)(nil)

// Option 配置议题库的可选行为。
type Option func(*StaticSource)

// WithMaxTopics 限制每个角色参与轮换的议题数量上限，0 表示不限制。
func WithMaxTopics(n int) Option {
	return func(s *StaticSource) {
		if n > 0 {
			s.maxTopics = n
		}
	}
}

// NewStaticSource 创建静态议题库实例。
func NewStaticSource(entries []Entry, opts ...Option) *StaticSource {
	if len(entries) == 0 {
		entries = defaultEntries
	}
	s := &StaticSource{entries: entries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// LoadStaticSource 从 JSON 文件加载议题条目。路径为空时使用内置议题。
func LoadStaticSource(path string, opts ...Option) (*StaticSource, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticSource(nil, opts...), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析议题库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取议题库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Entry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析议题库文件失败: %w", err)
	}

	return NewStaticSource(entries, opts...), nil
}

// Pick 为指定回合的智能体挑选议题。同一 (day, round, role) 的选择是
// 确定性的，因此固定输入下的模拟可以完整复现。
func (s *StaticSource) Pick(day, round int, agent deliberate.Agent) string {
	candidates := s.forRole(agent.Role)
	if len(candidates) == 0 {
		candidates = s.entries
	}
	if s.maxTopics > 0 && len(candidates) > s.maxTopics {
		candidates = candidates[:s.maxTopics]
	}
	index := ((day-1)*7 + (round - 1)) % len(candidates)
	return candidates[index].Topic
}

// forRole 返回对指定角色开放的议题。
func (s *StaticSource) forRole(role string) []Entry {
	role = strings.ToLower(strings.TrimSpace(role))
	matched := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if len(entry.Roles) == 0 {
			matched = append(matched, entry)
			continue
		}
		for _, candidate := range entry.Roles {
			if strings.ToLower(strings.TrimSpace(candidate)) == role {
				matched = append(matched, entry)
				break
			}
		}
	}
	return matched
}
