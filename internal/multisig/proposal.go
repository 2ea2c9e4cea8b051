package multisig

import (
	"sort"
	"time"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

// State 表示提案在生命周期中的状态。
type State string

const (
	StateDraft             State = "draft"
	StatePendingSignatures State = "pending_signatures"
	StateAuthorized        State = "authorized"
	StateRejected          State = "rejected"
	StateExpired           State = "expired"
)

// IsTerminal 判断状态是否为终态。
func (s State) IsTerminal() bool {
	switch s {
	case StateAuthorized, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// IsValidState 检查给定的提案状态是否为支持的枚举值。
func IsValidState(state State) bool {
	switch state {
	case StateDraft, StatePendingSignatures, StateAuthorized, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Intent 描述一次由讨论产生的交易意向。
type Intent struct {
	ProposedBy string  `json:"proposed_by"`
	Network    string  `json:"network"`
	Dex        string  `json:"dex"`
	TokenIn    string  `json:"token_in"`
	TokenOut   string  `json:"token_out"`
	Amount     float64 `json:"amount"`
}

// Proposal 描述一个等待多签授权的交易提案。
type Proposal struct {
	ID                 string    `json:"id"`
	ProposedBy         string    `json:"proposed_by"`
	Network            string    `json:"network"`
	Dex                string    `json:"dex"`
	TokenIn            string    `json:"token_in"`
	TokenOut           string    `json:"token_out"`
	Amount             float64   `json:"amount"`
	State              State     `json:"state"`
	Signatures         []string  `json:"signatures"`
	RequiredSignatures int       `json:"required_signatures"`
	RejectReason       string    `json:"reject_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// equivalenceKey 标识"等价"的提案: 同网络、同交易对、同提案人。
func (p *Proposal) equivalenceKey() string {
	return p.Network + "|" + p.TokenIn + "|" + p.TokenOut + "|" + p.ProposedBy
}

func (i Intent) equivalenceKey() string {
	return i.Network + "|" + i.TokenIn + "|" + i.TokenOut + "|" + i.ProposedBy
}

// clone 返回提案的只读快照，签名列表按字典序排列。
func (p *Proposal) clone() Proposal {
	snapshot := *p
	snapshot.Signatures = append([]string(nil), p.Signatures...)
	sort.Strings(snapshot.Signatures)
	return snapshot
}

var (
	// ErrProposalNotFound 表示指定的提案不存在。
	ErrProposalNotFound = xerrors.New(CodeProposalNotFound, "proposal not found")
	// ErrProposalConflict 表示等价提案已处于待签名状态。
	ErrProposalConflict = xerrors.New(CodeProposalConflict, "equivalent proposal pending", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidState 表示提案当前状态不允许所请求的操作。
	ErrInvalidState = xerrors.New(CodeInvalidState, "proposal not pending signatures")
	// ErrDuplicateSigner 表示同一签名者重复签名。
	ErrDuplicateSigner = xerrors.New(CodeDuplicateSigner, "signer already signed", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeProposalNotFound xerrors.Code = "PROPOSAL_NOT_FOUND"
	CodeProposalConflict xerrors.Code = "PROPOSAL_CONFLICT"
	CodeInvalidState     xerrors.Code = "PROPOSAL_INVALID_STATE"
	CodeDuplicateSigner  xerrors.Code = "DUPLICATE_SIGNER"
	CodeIntentValidation xerrors.Code = "INTENT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeProposalNotFound, xerrors.Attributes{
		Message:   "proposal not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalConflict, xerrors.Attributes{
		Message:   "equivalent proposal pending",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidState, xerrors.Attributes{
		Message:   "proposal not pending signatures",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicateSigner, xerrors.Attributes{
		Message:   "signer already signed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentValidation, xerrors.Attributes{
		Message:   "trade intent validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// UpdateKind 区分提案事件的种类。
type UpdateKind string

const (
	UpdateCreated    UpdateKind = "created"
	UpdateSigned     UpdateKind = "signed"
	UpdateAuthorized UpdateKind = "authorized"
	UpdateRejected   UpdateKind = "rejected"
	UpdateExpired    UpdateKind = "expired"
)

// Update 是引擎向外广播的提案状态变化快照。
type Update struct {
	Kind     UpdateKind `json:"kind"`
	Proposal Proposal   `json:"proposal"`
}

// Observer 接收提案状态变化。同一提案的回调按状态变化顺序串行执行，
// 回调内部不应再调用引擎方法。
type Observer func(Update)
