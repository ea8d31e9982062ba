package rewards

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury/internal/config"
	"treasury/internal/ledger"
	"treasury/internal/models"
	"treasury/internal/repository"
	memoryrepository "treasury/internal/repository/memory"
)

func testRewardsConfig() config.RewardsConfig {
	return config.RewardsConfig{
		DailyPeriod:        24 * time.Hour,
		DailyBaseMin:       50,
		DailyBaseMax:       100,
		JackpotChance:      0.01,
		JackpotMin:         101,
		JackpotMax:         2000,
		JackpotThreshold:   1000,
		HarvestCatchChance: 0.5,
		HarvestPayoutMin:   0.1,
		HarvestPayoutMax:   2.0,
	}
}

func newTestEngine(t *testing.T, seed int64, cfg config.RewardsConfig) *Engine {
	t.Helper()
	repo := memoryrepository.New()
	return NewEngine(
		repo,
		&ledger.Store{Repo: repo},
		ledger.NewCoordinator(),
		zap.NewNop(),
		cfg,
		rand.New(rand.NewSource(seed)),
		Blackjack{},
		Harvest{CatchChance: cfg.HarvestCatchChance, PayoutMin: cfg.HarvestPayoutMin, PayoutMax: cfg.HarvestPayoutMax},
	)
}

func creditBalance(t *testing.T, e *Engine, guildID, userID, amount string) *models.Account {
	t.Helper()
	ctx := context.Background()
	account, err := e.Ledger.Account(ctx, guildID, userID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if _, err := e.Ledger.ApplyDelta(ctx, nil, account.ID, decimal.RequireFromString(amount), models.KindAdmin, nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	return account
}

func TestClaimDaily_OncePerPeriod(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()

	first, err := e.ClaimDaily(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	min := decimal.NewFromInt(e.Cfg.DailyBaseMin)
	max := decimal.NewFromInt(e.Cfg.JackpotMax)
	if first.Amount.LessThan(min) || first.Amount.GreaterThan(max) {
		t.Fatalf("amount=%s out of range [%s, %s]", first.Amount.String(), min.String(), max.String())
	}
	if first.NewBalance.Cmp(first.Amount) != 0 {
		t.Fatalf("balance=%s want=%s", first.NewBalance.String(), first.Amount.String())
	}

	if _, err := e.ClaimDaily(ctx, "g1", "u1"); !errors.Is(err, ledger.ErrAlreadyClaimed) {
		t.Fatalf("second claim err=%v want ErrAlreadyClaimed", err)
	}
	balance, err := e.Ledger.GetBalance(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(first.Amount) != 0 {
		t.Fatalf("balance=%s want unchanged %s", balance.String(), first.Amount.String())
	}

	// Age the claim past the period and try again.
	account, err := e.Repo.GetAccount(ctx, "g1", "u1")
	if err != nil || account == nil {
		t.Fatalf("account: %v %v", account, err)
	}
	past := time.Now().UTC().Add(-25 * time.Hour)
	if err := e.Repo.UpdateAccountTx(ctx, nil, account.ID, map[string]any{"last_daily_claim_at": past}); err != nil {
		t.Fatalf("age claim: %v", err)
	}
	if _, err := e.ClaimDaily(ctx, "g1", "u1"); err != nil {
		t.Fatalf("claim after period: %v", err)
	}

	kind := models.KindDaily
	count, err := e.Repo.CountTransactions(ctx, repository.ListTransactionsParams{AccountID: &account.ID, Kind: &kind})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("daily transactions=%d want=2", count)
	}
}

func TestClaimDaily_DeterministicWithFixedSeed(t *testing.T) {
	a, err := newTestEngine(t, 42, testRewardsConfig()).ClaimDaily(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	b, err := newTestEngine(t, 42, testRewardsConfig()).ClaimDaily(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if a.Amount.Cmp(b.Amount) != 0 {
		t.Fatalf("amounts differ for identical seeds: %s vs %s", a.Amount.String(), b.Amount.String())
	}
}

func TestClaimDaily_JackpotFlag(t *testing.T) {
	cfg := testRewardsConfig()
	cfg.JackpotChance = 1
	cfg.JackpotMin = 1500
	cfg.JackpotMax = 2000
	e := newTestEngine(t, 7, cfg)

	claim, err := e.ClaimDaily(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claim.Jackpot {
		t.Fatalf("amount=%s above threshold must set the jackpot flag", claim.Amount.String())
	}
}

func TestDonate_MovesFundsAtomically(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()
	creditBalance(t, e, "g1", "alice", "100")

	result, err := e.Donate(ctx, "g1", "alice", "bob", decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("donate: %v", err)
	}
	if result.SenderBalance.Cmp(decimal.NewFromInt(60)) != 0 {
		t.Fatalf("sender=%s want=60", result.SenderBalance.String())
	}
	if result.RecipientBalance.Cmp(decimal.NewFromInt(40)) != 0 {
		t.Fatalf("recipient=%s want=40", result.RecipientBalance.String())
	}
	if result.TransferID == "" {
		t.Fatalf("transfer id must be set")
	}

	// Both journal entries carry the same transfer id.
	kind := models.KindDonation
	items, err := e.Repo.ListTransactions(ctx, repository.ListTransactionsParams{Kind: &kind})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("donation transactions=%d want=2", len(items))
	}
	for _, item := range items {
		if item.TransferID == nil || *item.TransferID != result.TransferID {
			t.Fatalf("transferID=%v want=%s", item.TransferID, result.TransferID)
		}
	}
}

func TestDonate_InsufficientLeavesBothUntouched(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()
	creditBalance(t, e, "g1", "alice", "10")
	creditBalance(t, e, "g1", "bob", "5")

	if _, err := e.Donate(ctx, "g1", "alice", "bob", decimal.NewFromInt(50)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err=%v want ErrInsufficientFunds", err)
	}

	alice, _ := e.Ledger.GetBalance(ctx, "g1", "alice")
	bob, _ := e.Ledger.GetBalance(ctx, "g1", "bob")
	if alice.Cmp(decimal.NewFromInt(10)) != 0 || bob.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("balances=%s/%s want unchanged 10/5", alice.String(), bob.String())
	}
	kind := models.KindDonation
	count, err := e.Repo.CountTransactions(ctx, repository.ListTransactionsParams{Kind: &kind})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("donation transactions=%d want=0 after failed transfer", count)
	}
}

func TestDonate_Validation(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()

	if _, err := e.Donate(ctx, "g1", "alice", "bob", decimal.Zero); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("zero err=%v want ErrInvalidAmount", err)
	}
	if _, err := e.Donate(ctx, "g1", "alice", "bob", decimal.NewFromInt(-5)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("negative err=%v want ErrInvalidAmount", err)
	}
	if _, err := e.Donate(ctx, "g1", "alice", "alice", decimal.NewFromInt(5)); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("self err=%v want ErrInvalidAmount", err)
	}
}

// Two opposite equal donations must net to zero no matter how the
// interleaving falls out.
func TestDonate_ConcurrentOppositeDirections(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()
	creditBalance(t, e, "g1", "alice", "100")
	creditBalance(t, e, "g1", "bob", "100")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.Donate(ctx, "g1", "alice", "bob", decimal.NewFromInt(30)); err != nil {
				t.Errorf("alice->bob: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.Donate(ctx, "g1", "bob", "alice", decimal.NewFromInt(30)); err != nil {
				t.Errorf("bob->alice: %v", err)
			}
		}()
	}
	wg.Wait()

	alice, _ := e.Ledger.GetBalance(ctx, "g1", "alice")
	bob, _ := e.Ledger.GetBalance(ctx, "g1", "bob")
	if alice.Cmp(decimal.NewFromInt(100)) != 0 || bob.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("balances=%s/%s want both back at 100", alice.String(), bob.String())
	}
}

func TestGamble_Validation(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()
	creditBalance(t, e, "g1", "u1", "100")

	if _, err := e.Gamble(ctx, "g1", "u1", "roulette", decimal.NewFromInt(10)); !errors.Is(err, ledger.ErrUnknownGame) {
		t.Fatalf("unknown err=%v want ErrUnknownGame", err)
	}
	if _, err := e.Gamble(ctx, "g1", "u1", "blackjack", decimal.Zero); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("zero err=%v want ErrInvalidAmount", err)
	}
	if _, err := e.Gamble(ctx, "g1", "u1", "blackjack", decimal.NewFromInt(500)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("oversized err=%v want ErrInsufficientFunds", err)
	}
}

func TestGamble_BlackjackRounds(t *testing.T) {
	e := newTestEngine(t, 99, testRewardsConfig())
	ctx := context.Background()
	account := creditBalance(t, e, "g1", "u1", "1000")
	stake := decimal.NewFromInt(10)
	payoutCap := stake.Mul(decimal.RequireFromString("1.5"))

	previous := decimal.NewFromInt(1000)
	const rounds = 50
	for i := 0; i < rounds; i++ {
		result, err := e.Gamble(ctx, "g1", "u1", "blackjack", stake)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		delta := result.Outcome.Delta
		if delta.LessThan(stake.Neg()) || delta.GreaterThan(payoutCap) {
			t.Fatalf("round %d delta=%s outside [-10, 15]", i, delta.String())
		}
		if result.NewBalance.Cmp(previous.Add(delta)) != 0 {
			t.Fatalf("round %d balance=%s want=%s", i, result.NewBalance.String(), previous.Add(delta).String())
		}
		if result.NewBalance.IsNegative() {
			t.Fatalf("round %d produced negative balance %s", i, result.NewBalance.String())
		}
		previous = result.NewBalance
	}

	// Every round, pushes included, leaves a journal entry.
	kind := models.KindGamble
	count, err := e.Repo.CountTransactions(ctx, repository.ListTransactionsParams{AccountID: &account.ID, Kind: &kind})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != rounds {
		t.Fatalf("gamble transactions=%d want=%d", count, rounds)
	}
}

func TestGamble_HarvestBounds(t *testing.T) {
	e := newTestEngine(t, 7, testRewardsConfig())
	ctx := context.Background()
	creditBalance(t, e, "g1", "u1", "1000")
	stake := decimal.NewFromInt(20)
	payoutCap := stake.Mul(decimal.RequireFromString("2.0"))

	for i := 0; i < 50; i++ {
		result, err := e.Gamble(ctx, "g1", "u1", "harvest", stake)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		delta := result.Outcome.Delta
		switch result.Outcome.Summary {
		case "caught":
			if delta.Cmp(stake.Neg()) != 0 {
				t.Fatalf("round %d caught delta=%s want=-20", i, delta.String())
			}
		case "haul":
			if !delta.IsPositive() || delta.GreaterThan(payoutCap.Add(decimal.NewFromInt(1))) {
				t.Fatalf("round %d haul delta=%s outside (0, 41]", i, delta.String())
			}
		default:
			t.Fatalf("round %d unexpected summary %q", i, result.Outcome.Summary)
		}
	}
}

func TestBlackjack_PlayIsDeterministic(t *testing.T) {
	stake := decimal.NewFromInt(10)
	a := Blackjack{}.Play(rand.New(rand.NewSource(5)), stake)
	b := Blackjack{}.Play(rand.New(rand.NewSource(5)), stake)
	if a.Summary != b.Summary || a.Delta.Cmp(b.Delta) != 0 {
		t.Fatalf("same seed produced different outcomes: %s/%s vs %s/%s",
			a.Summary, a.Delta.String(), b.Summary, b.Delta.String())
	}
	if a.Payload["player_total"].(int) < 17 && a.Summary != "blackjack" {
		t.Fatalf("player stood below 17: %+v", a.Payload)
	}
}

func TestSetReminderPreference(t *testing.T) {
	e := newTestEngine(t, 1, testRewardsConfig())
	ctx := context.Background()

	if err := e.SetReminderPreference(ctx, "g1", "u1", models.ReminderOnce); err != nil {
		t.Fatalf("set: %v", err)
	}
	account, err := e.Repo.GetAccount(ctx, "g1", "u1")
	if err != nil || account == nil {
		t.Fatalf("account: %v %v", account, err)
	}
	if account.ReminderPreference != models.ReminderOnce {
		t.Fatalf("preference=%s want=once", account.ReminderPreference)
	}

	if err := e.SetReminderPreference(ctx, "g1", "u1", "sometimes"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("err=%v want ErrInvalidAmount", err)
	}
}
