package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
)

// ProposalRepository 使用 MySQL 持久化多签提案。
type ProposalRepository struct {
	db *sql.DB
}

var _ multisig.Store = (*ProposalRepository)(nil)

// NewProposalRepository 建立连接池并执行待应用的迁移。
func NewProposalRepository(ctx context.Context, cfg Config) (*ProposalRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &ProposalRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Save 写入或覆盖一条提案记录。
func (r *ProposalRepository) Save(ctx context.Context, proposal multisig.Proposal) error {
	signatures, err := json.Marshal(proposal.Signatures)
	if err != nil {
		return fmt.Errorf("序列化签名列表失败: %w", err)
	}

	const stmt = `INSERT INTO proposals
        (id, proposed_by, network, dex, token_in, token_out, amount, state, signatures, required_signatures, reject_reason, created_at, updated_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        state = VALUES(state), signatures = VALUES(signatures),
        reject_reason = VALUES(reject_reason), updated_at = VALUES(updated_at)`

	if _, err := r.db.ExecContext(ctx, stmt,
		proposal.ID,
		proposal.ProposedBy,
		proposal.Network,
		proposal.Dex,
		proposal.TokenIn,
		proposal.TokenOut,
		proposal.Amount,
		string(proposal.State),
		string(signatures),
		proposal.RequiredSignatures,
		proposal.RejectReason,
		proposal.CreatedAt.Unix(),
		proposal.UpdatedAt.Unix(),
		proposal.ExpiresAt.Unix(),
	); err != nil {
		return fmt.Errorf("写入提案失败: %w", err)
	}
	return nil
}

// ListPending 返回所有仍处于待签名状态的提案，用于进程重启后的恢复。
func (r *ProposalRepository) ListPending(ctx context.Context) ([]multisig.Proposal, error) {
	const query = `SELECT id, proposed_by, network, dex, token_in, token_out, amount, state, signatures, required_signatures, reject_reason, created_at, updated_at, expires_at
        FROM proposals WHERE state = ? ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, string(multisig.StatePendingSignatures))
	if err != nil {
		return nil, fmt.Errorf("查询待签名提案失败: %w", err)
	}
	defer rows.Close()

	var proposals []multisig.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历提案记录失败: %w", err)
	}
	return proposals, nil
}

// Close 关闭底层数据库连接。
func (r *ProposalRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func scanProposal(rows *sql.Rows) (multisig.Proposal, error) {
	var (
		proposal     multisig.Proposal
		state        string
		signatures   string
		rejectReason sql.NullString
		createdAt    int64
		updatedAt    int64
		expiresAt    int64
	)
	if err := rows.Scan(
		&proposal.ID,
		&proposal.ProposedBy,
		&proposal.Network,
		&proposal.Dex,
		&proposal.TokenIn,
		&proposal.TokenOut,
		&proposal.Amount,
		&state,
		&signatures,
		&proposal.RequiredSignatures,
		&rejectReason,
		&createdAt,
		&updatedAt,
		&expiresAt,
	); err != nil {
		return multisig.Proposal{}, fmt.Errorf("解析提案记录失败: %w", err)
	}

	proposal.State = multisig.State(state)
	if !multisig.IsValidState(proposal.State) {
		return multisig.Proposal{}, fmt.Errorf("提案 %s 的状态 %q 不合法", proposal.ID, state)
	}
	if err := json.Unmarshal([]byte(signatures), &proposal.Signatures); err != nil {
		return multisig.Proposal{}, fmt.Errorf("解析提案 %s 的签名列表失败: %w", proposal.ID, err)
	}
	proposal.RejectReason = rejectReason.String
	proposal.CreatedAt = time.Unix(createdAt, 0)
	proposal.UpdatedAt = time.Unix(updatedAt, 0)
	proposal.ExpiresAt = time.Unix(expiresAt, 0)
	return proposal, nil
}
