package deliberate

import "time"

// Agent 描述参与讨论的一个智能体。
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	SocialHandle string `json:"social_handle"`
}

// Interaction 是一次智能体发言，记录后不可变。
type Interaction struct {
	ID           string    `json:"id"`
	Day          int       `json:"day"`
	Round        int       `json:"round"`
	AgentID      string    `json:"agent_id"`
	AgentName    string    `json:"agent_name"`
	SocialHandle string    `json:"social_handle"`
	Topic        string    `json:"topic"`
	Response     string    `json:"response"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradeIntent 是讨论收敛出的可执行交易意向。
type TradeIntent struct {
	Network  string  `json:"network"`
	Dex      string  `json:"dex"`
	TokenIn  string  `json:"token_in"`
	TokenOut string  `json:"token_out"`
	Amount   float64 `json:"amount"`
}

// Decision 是智能体单次决策的结果，交易意向可选。
type Decision struct {
	Response string
	Intent   *TradeIntent
}

// Synopsis 是一天讨论的摘要。Placeholder 表示摘要生成失败后的占位文本。
type Synopsis struct {
	Day          int       `json:"day"`
	Text         string    `json:"text"`
	Interactions int       `json:"interactions"`
	Placeholder  bool      `json:"placeholder"`
	Timestamp    time.Time `json:"timestamp"`
}

// Status 是调度过程中的系统通知，例如智能体失败或模拟结束。
type Status struct {
	Day      int    `json:"day"`
	Round    int    `json:"round"`
	Message  string `json:"message"`
	Terminal bool   `json:"terminal"`
}

// Window 持有一天内被记录的发言。容量用于限制摘要输入的规模，
// 超出容量的发言照常计算但不会被记录或广播。
type Window struct {
	Day             int
	RoundsCompleted int
	Interactions    []Interaction
	Synopsis        string
	sealed          bool
	capPerSynopsis  int
}

// NewWindow 创建某一天的讨论窗口。
func NewWindow(day, capPerSynopsis int) *Window {
	return &Window{Day: day, capPerSynopsis: capPerSynopsis}
}

// Append 尝试记录一次发言。窗口已满或已封存时返回 false。
func (w *Window) Append(interaction Interaction) bool {
	if w.sealed || len(w.Interactions) >= w.capPerSynopsis {
		return false
	}
	w.Interactions = append(w.Interactions, interaction)
	return true
}

// Seal 写入摘要并把窗口转为不可变。
func (w *Window) Seal(synopsis string) {
	w.Synopsis = synopsis
	w.sealed = true
}

// Sealed 返回窗口是否已封存。
func (w *Window) Sealed() bool {
	return w.sealed
}
