package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
	"custody-chain/internal/wallet"
)

const walletColumns = `user_key, alias, account_id, evm_address, public_key, encrypted_key, encrypted_alt_key, created_at, updated_at`

// WalletRepository 使用关系型数据库保存钱包记录。
type WalletRepository struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open 连接数据库并执行迁移。
func Open(ctx context.Context, cfg Config) (*WalletRepository, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, cfg, d)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open wallet database")
	}
	repo := &WalletRepository{db: db, dialect: d, now: time.Now}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "migrate wallet database")
	}
	return repo, nil
}

// Close 关闭连接池。
func (r *WalletRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping 检查数据库连通性。
func (r *WalletRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FindByUserKey 实现 wallet.Repository 接口。
func (r *WalletRepository) FindByUserKey(ctx context.Context, userKey string) (*wallet.Record, error) {
	return r.findOne(ctx, r.db, `SELECT `+walletColumns+` FROM wallets WHERE user_key = ?`, userKey)
}

// FindByAlias 实现 wallet.Repository 接口。
func (r *WalletRepository) FindByAlias(ctx context.Context, alias string) (*wallet.Record, error) {
	alias = wallet.NormalizeAlias(alias)
	if alias == "" {
		return nil, wallet.ErrWalletNotFound
	}
	return r.findOne(ctx, r.db, `SELECT `+walletColumns+` FROM wallets WHERE alias = ?`, alias)
}

// Create 实现 wallet.Repository 接口。alias 若被他人占用则先从原持有者处移除。
func (r *WalletRepository) Create(ctx context.Context, rec *wallet.Record) error {
	if rec == nil || rec.UserKey == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "钱包记录缺少 user_key")
	}
	now := r.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Alias = wallet.NormalizeAlias(rec.Alias)

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.releaseAlias(ctx, tx, rec.Alias, rec.UserKey, now); err != nil {
			return err
		}
		stmt := `INSERT INTO wallets (` + walletColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, r.dialect.rebind(stmt),
			rec.UserKey,
			nullable(rec.Alias),
			rec.AccountID.String(),
			rec.EVMAddress,
			rec.PublicKey,
			rec.EncryptedKey,
			rec.EncryptedAltKey,
			rec.CreatedAt.UnixMilli(),
			rec.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			if r.dialect.isDuplicate(err) {
				return wallet.ErrWalletExists
			}
			return storageError(err, "insert wallet")
		}
		return nil
	})
}

// UpdateAlias 实现 wallet.Repository 接口，只修改 alias 与 updated_at。
func (r *WalletRepository) UpdateAlias(ctx context.Context, userKey, alias string) (*wallet.Record, error) {
	alias = wallet.NormalizeAlias(alias)
	now := r.now().UTC()

	var updated *wallet.Record
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.releaseAlias(ctx, tx, alias, userKey, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.dialect.rebind(`UPDATE wallets SET alias = ?, updated_at = ? WHERE user_key = ?`),
			nullable(alias), now.UnixMilli(), userKey)
		if err != nil {
			return storageError(err, "update wallet alias")
		}
		// MySQL 对未变化的行报告 0 行受影响，以回读结果判断记录是否存在。
		updated, err = r.findOne(ctx, tx, `SELECT `+walletColumns+` FROM wallets WHERE user_key = ?`, userKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *WalletRepository) releaseAlias(ctx context.Context, tx *sql.Tx, alias, userKey string, now time.Time) error {
	if alias == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, r.dialect.rebind(`UPDATE wallets SET alias = NULL, updated_at = ? WHERE alias = ? AND user_key <> ?`),
		now.UnixMilli(), alias, userKey)
	if err != nil {
		return storageError(err, "release wallet alias")
	}
	return nil
}

func (r *WalletRepository) findOne(ctx context.Context, q queryer, query string, arg string) (*wallet.Record, error) {
	var (
		rec       wallet.Record
		alias     sql.NullString
		accountID string
		created   int64
		updated   int64
	)
	err := q.QueryRowContext(ctx, r.dialect.rebind(query), arg).Scan(
		&rec.UserKey,
		&alias,
		&accountID,
		&rec.EVMAddress,
		&rec.PublicKey,
		&rec.EncryptedKey,
		&rec.EncryptedAltKey,
		&created,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, storageError(err, "query wallet")
	}
	id, err := ledger.ParseAccountID(accountID)
	if err != nil {
		return nil, storageError(err, fmt.Sprintf("corrupt account id for %s", rec.UserKey))
	}
	rec.AccountID = id
	rec.Alias = alias.String
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func (r *WalletRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError(err, "commit transaction")
	}
	return nil
}

func storageError(err error, action string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, action)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ wallet.Repository = (*WalletRepository)(nil)
	_ queryer           = (*sql.DB)(nil)
	_ queryer           = (*sql.Tx)(nil)
)
