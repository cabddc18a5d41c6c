package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"custody-chain/internal/config"
	"custody-chain/internal/events"
	"custody-chain/internal/ledger"
	"custody-chain/internal/ledger/memory"
	"custody-chain/internal/observability/alerting"
	"custody-chain/internal/secret"
	"custody-chain/pkg/logger"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testToken       = ledger.AssetID("0.0.5005")
	testInitialHbar = 100_000_000
)

func testMasterKey(seed byte) []byte {
	key := make([]byte, secret.MasterKeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerts) Events() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

type fixture struct {
	ledger    *memory.Ledger
	repo      *MemoryRepository
	settings  Settings
	store     *Store
	resolver  *Resolver
	orch      *Orchestrator
	service   *Service
	publisher *events.MemoryPublisher
	alerts    *recordingAlerts
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	operatorBalance uint64
	masterKey       []byte
	settings        Settings
	ledgerOpts      []memory.Option
	airdrop         uint64
	ledger          *memory.Ledger
	repo            *MemoryRepository
}

func withLedgerOptions(opts ...memory.Option) fixtureOption {
	return func(c *fixtureConfig) { c.ledgerOpts = append(c.ledgerOpts, opts...) }
}

func withOperatorBalance(balance uint64) fixtureOption {
	return func(c *fixtureConfig) { c.operatorBalance = balance }
}

// withAirdrop 在首次 token 转账执行前给发送方记入 amount，模拟用户此前已收到过该资产。
func withAirdrop(amount uint64) fixtureOption {
	return func(c *fixtureConfig) { c.airdrop = amount }
}

func withSettings(s Settings) fixtureOption {
	return func(c *fixtureConfig) { c.settings = s }
}

// withShared 复用已有账本与存储，用于模拟换主密钥后重启。
func withShared(l *memory.Ledger, repo *MemoryRepository, masterKey []byte) fixtureOption {
	return func(c *fixtureConfig) {
		c.ledger = l
		c.repo = repo
		c.masterKey = masterKey
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		operatorBalance: 1_000_000_000_000,
		masterKey:       testMasterKey(1),
		settings: Settings{
			Network:        "testnet",
			InitialBalance: testInitialHbar,
			ReceiptTimeout: time.Second,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := cfg.ledger
	if l == nil {
		ledgerOpts := cfg.ledgerOpts
		if cfg.airdrop > 0 {
			ledgerOpts = append(ledgerOpts, airdropHook(&l, cfg.airdrop))
		}
		l = memory.New(cfg.operatorBalance, ledgerOpts...)
		l.CreateToken(testToken, 1_000_000)
	}
	repo := cfg.repo
	if repo == nil {
		repo = NewMemoryRepository()
	}
	cipher, err := secret.NewCipher(cfg.masterKey)
	require.NoError(t, err)

	catalog := NewCatalog([]config.Asset{{Symbol: "Z", TokenID: string(testToken), Decimals: 2, Name: "Zed"}})
	publisher := events.NewMemoryPublisher()
	alerts := &recordingAlerts{}
	quiet := logger.Discard()

	assoc := NewAssociator(l, WithAssociatorLogger(quiet))
	store := NewStore(repo, l, cipher, assoc, cfg.settings, WithStoreLogger(quiet))
	resolver := NewResolver(store)
	orch := NewOrchestrator(l, assoc, cfg.settings,
		WithPublisher(publisher),
		WithAlerts(alerts),
		WithOrchestratorLogger(quiet),
	)
	return &fixture{
		ledger:    l,
		repo:      repo,
		settings:  cfg.settings,
		store:     store,
		resolver:  resolver,
		orch:      orch,
		service:   NewService(store, resolver, orch, catalog, nil),
		publisher: publisher,
		alerts:    alerts,
	}
}

// newLedgerAccount 直接在账本上开一个非托管账户。
func newLedgerAccount(t *testing.T, l *memory.Ledger, native uint64) (ledger.AccountID, *secret.Buffer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	id, err := l.CreateAccount(context.Background(), crypto.CompressPubkey(&key.PublicKey), native)
	require.NoError(t, err)
	return id, secret.NewBuffer(crypto.FromECDSA(key))
}

func airdropHook(l **memory.Ledger, amount uint64) memory.Option {
	var once sync.Once
	return memory.WithTransferHook(func(instr ledger.TransferInstruction) (*ledger.Receipt, error) {
		if !instr.Asset.IsNative() {
			once.Do(func() { _ = (*l).Credit(instr.From, instr.Asset, amount) })
		}
		return nil, nil
	})
}
