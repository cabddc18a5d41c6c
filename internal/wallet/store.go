package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
	"custody-chain/internal/lock"
	"custody-chain/internal/secret"
	"custody-chain/pkg/logger"
)

// Store 维护 userKey 到钱包的映射，提供 get-or-create 语义。
type Store struct {
	repo       Repository
	ledger     ledger.Client
	cipher     *secret.Cipher
	associator *Associator
	settings   Settings
	locker     lock.Locker
	generate   IdentityGenerator
	logger     *slog.Logger
	observer   Observer
}

// StoreOption 配置 Store。
type StoreOption func(*Store)

// WithStoreLogger 指定日志实例。
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocker 指定开户锁，默认使用进程内锁。
func WithLocker(l lock.Locker) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithIdentityGenerator 替换密钥生成函数。
func WithIdentityGenerator(g IdentityGenerator) StoreOption {
	return func(s *Store) {
		if g != nil {
			s.generate = g
		}
	}
}

// WithStoreObserver 指定度量观察者。
func WithStoreObserver(o Observer) StoreOption {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewStore 创建 Store。
func NewStore(repo Repository, client ledger.Client, cipher *secret.Cipher, associator *Associator, settings Settings, opts ...StoreOption) *Store {
	s := &Store{
		repo:       repo,
		ledger:     client,
		cipher:     cipher,
		associator: associator,
		settings:   settings.withDefaults(),
		locker:     lock.NewMemoryLocker(),
		generate:   GenerateIdentity,
		logger:     logger.Named("wallet.store"),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetOrCreate 返回 userKey 对应的解密钱包，不存在时创建链上账户。
// aliasHint 非空且与记录不同时只更新 alias。调用方必须 Release 返回值。
func (s *Store) GetOrCreate(ctx context.Context, userKey, aliasHint string) (*Wallet, error) {
	if userKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user key is required")
	}

	rec, err := s.repo.FindByUserKey(ctx, userKey)
	switch {
	case err == nil:
		return s.refresh(ctx, rec, aliasHint)
	case !errors.Is(err, ErrWalletNotFound):
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "wallet:"+userKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "acquire provisioning lock",
			xerrors.WithMetadata(MetaUserKey, userKey))
	}
	defer release()

	// 其他副本可能已在等待锁期间完成开户。
	rec, err = s.repo.FindByUserKey(ctx, userKey)
	switch {
	case err == nil:
		return s.refresh(ctx, rec, aliasHint)
	case !errors.Is(err, ErrWalletNotFound):
		return nil, err
	}
	return s.provision(ctx, userKey, aliasHint)
}

// Lookup 打开已存在的钱包，不会创建。
func (s *Store) Lookup(ctx context.Context, userKey string) (*Wallet, error) {
	rec, err := s.repo.FindByUserKey(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return s.Open(rec)
}

// Find 返回记录本身，不解密。
func (s *Store) Find(ctx context.Context, userKey string) (*Record, error) {
	return s.repo.FindByUserKey(ctx, userKey)
}

// FindByAlias 按 alias 查找记录，不解密。
func (s *Store) FindByAlias(ctx context.Context, alias string) (*Record, error) {
	return s.repo.FindByAlias(ctx, NormalizeAlias(alias))
}

// Open 解密记录中的私钥并校验其与公钥一致。失败返回 DecryptionError，绝不会改为新开户。
// 早期记录的私钥以文本形式保存，主私钥无法使用时会尝试同一密钥的 EVM 文本。
func (s *Store) Open(rec *Record) (*Wallet, error) {
	key, err := s.openKey(rec.EncryptedKey, rec.PublicKey)
	if err != nil && rec.EncryptedAltKey != "" && !errors.Is(err, secret.ErrAuthFailed) {
		if altKey, altErr := s.openKey(rec.EncryptedAltKey, rec.PublicKey); altErr == nil {
			key, err = altKey, nil
		}
	}
	if err != nil {
		return nil, s.decryptionError(rec, err)
	}

	var alt *secret.Buffer
	if rec.EncryptedAltKey != "" {
		alt, err = s.cipher.Decrypt(rec.EncryptedAltKey)
		if err != nil {
			key.Release()
			return nil, s.decryptionError(rec, err)
		}
	}
	return &Wallet{Record: *rec.Clone(), key: key, altKey: alt}, nil
}

// openKey 解密 envelope，归一化为 32 字节标量并与公钥比对。
func (s *Store) openKey(envelope, publicKeyHex string) (*secret.Buffer, error) {
	plain, err := s.cipher.Decrypt(envelope)
	if err != nil {
		return nil, err
	}
	defer plain.Release()

	var key *secret.Buffer
	err = plain.Use(func(b []byte) error {
		raw, err := scalarFromKeyMaterial(b)
		if err != nil {
			return err
		}
		defer clear(raw)
		if !matchesPublicKey(raw, publicKeyHex) {
			return errors.New("decrypted key does not match stored public key")
		}
		key = secret.NewBuffer(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Store) decryptionError(rec *Record, cause error) error {
	s.logger.Error("wallet key decryption failed",
		slog.String("user_key", rec.UserKey),
		slog.String("account_id", rec.AccountID.String()),
		slog.Any("error", cause),
	)
	return xerrors.Wrap(CodeDecryption, cause, "wallet key decryption failed",
		xerrors.WithMetadata(MetaUserKey, rec.UserKey),
		xerrors.WithMetadata(MetaAccountID, rec.AccountID.String()),
	)
}

func (s *Store) refresh(ctx context.Context, rec *Record, aliasHint string) (*Wallet, error) {
	alias := NormalizeAlias(aliasHint)
	if alias != "" && alias != rec.Alias {
		updated, err := s.repo.UpdateAlias(ctx, rec.UserKey, alias)
		if err != nil {
			return nil, err
		}
		logger.Audit().Info("wallet alias updated",
			slog.String("user_key", rec.UserKey),
			slog.String("old_alias", rec.Alias),
			slog.String("alias", alias),
		)
		rec = updated
	}
	return s.Open(rec)
}

func (s *Store) provision(ctx context.Context, userKey, aliasHint string) (*Wallet, error) {
	identity, err := s.generate()
	if err != nil {
		s.observer.WalletProvisioned(false)
		return nil, err
	}
	keep := false
	defer func() {
		if !keep {
			identity.Release()
		}
	}()

	accountID, err := s.ledger.CreateAccount(ctx, identity.PublicKey, s.settings.InitialBalance)
	if err != nil {
		s.observer.WalletProvisioned(false)
		s.logger.Error("ledger account creation failed", slog.String("user_key", userKey), slog.Any("error", err))
		return nil, xerrors.Wrap(CodeProvisioning, err, "create ledger account",
			xerrors.WithMetadata(MetaUserKey, userKey))
	}

	for _, asset := range s.settings.PreAssociate {
		res := s.associator.Ensure(ctx, accountID, asset, identity.PrivateKey)
		if res.Err != nil {
			s.logger.Warn("pre-association skipped",
				slog.String("account_id", accountID.String()),
				slog.String("asset", string(asset)),
				slog.Any("error", res.Err),
			)
		}
	}

	encKey, err := s.cipher.EncryptBuffer(identity.PrivateKey)
	if err != nil {
		return nil, s.orphaned(userKey, accountID, err)
	}
	encAlt, err := s.cipher.EncryptBuffer(identity.AltPrivateKey)
	if err != nil {
		return nil, s.orphaned(userKey, accountID, err)
	}

	rec := &Record{
		UserKey:         userKey,
		Alias:           NormalizeAlias(aliasHint),
		AccountID:       accountID,
		EVMAddress:      identity.Address,
		PublicKey:       hex.EncodeToString(identity.PublicKey),
		EncryptedKey:    encKey,
		EncryptedAltKey: encAlt,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrWalletExists) {
			// 锁失效时的并发开户：保留先写入的记录，新账户成为孤儿。
			s.logger.Warn("wallet created concurrently, discarding new ledger account",
				slog.String("user_key", userKey),
				slog.String("orphan_account_id", accountID.String()),
			)
			existing, findErr := s.repo.FindByUserKey(ctx, userKey)
			if findErr != nil {
				return nil, findErr
			}
			return s.refresh(ctx, existing, aliasHint)
		}
		return nil, s.orphaned(userKey, accountID, err)
	}

	s.observer.WalletProvisioned(true)
	logger.Audit().Info("wallet created",
		slog.String("user_key", userKey),
		slog.String("account_id", accountID.String()),
		slog.String("evm_address", identity.Address),
	)

	keep = true
	return &Wallet{Record: *rec.Clone(), key: identity.PrivateKey, altKey: identity.AltPrivateKey}, nil
}

// orphaned 记录已创建但未能持久化的链上账户。
func (s *Store) orphaned(userKey string, accountID ledger.AccountID, cause error) error {
	s.observer.WalletProvisioned(false)
	s.logger.Error("ledger account created but wallet not persisted",
		slog.String("user_key", userKey),
		slog.String("orphan_account_id", accountID.String()),
		slog.Any("error", cause),
	)
	return xerrors.Wrap(CodeProvisioning, cause, "persist wallet",
		xerrors.WithMetadata(MetaUserKey, userKey),
		xerrors.WithMetadata(MetaAccountID, accountID.String()),
	)
}
