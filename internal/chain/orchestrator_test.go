package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/dodge1218/prompt-intelligence/internal/domain"
	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/repository/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const userID = "user-1"

var now = base.Add(6 * time.Hour)

func seed(store *memory.Store, prompts []domain.PromptRecord) {
	for _, p := range prompts {
		store.AddPrompt(userID, p)
	}
}

func newTestOrchestrator(t *testing.T, store Store, cfg Config, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewOrchestrator(store, cfg, zaptest.NewLogger(t), opts...)
}

// flakyStore fails selected inserts and links while delegating to memory.
type flakyStore struct {
	*memory.Store
	mu         sync.Mutex
	failInsert func(domain.ChainRecord) bool
	failLink   func(promptIDs []string) bool
}

func (f *flakyStore) InsertChain(ctx context.Context, record domain.ChainRecord) (*domain.ChainRecord, error) {
	f.mu.Lock()
	fail := f.failInsert != nil && f.failInsert(record)
	f.mu.Unlock()
	if fail {
		return nil, errors.New("insert rejected")
	}
	return f.Store.InsertChain(ctx, record)
}

func (f *flakyStore) LinkPrompts(ctx context.Context, userID, chainID string, promptIDs []string) error {
	f.mu.Lock()
	fail := f.failLink != nil && f.failLink(promptIDs)
	f.mu.Unlock()
	if fail {
		return errors.New("update rejected")
	}
	return f.Store.LinkPrompts(ctx, userID, chainID, promptIDs)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInsert = nil
	f.failLink = nil
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	results  []DetectionResult
}

func (r *recordingRecorder) RecordDetectionRun(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) RecordChains(result DetectionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func TestDetectAndPersistChains(t *testing.T) {
	ctx := context.Background()

	t.Run("no candidates returns zero without inserting", func(t *testing.T) {
		store := memory.NewStore()
		recorder := &recordingRecorder{}
		o := newTestOrchestrator(t, store, DefaultConfig(), WithRecorder(recorder))

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, 0, result.ChainsDetected)
		assert.Equal(t, 0, store.Calls("InsertChain"))
		assert.Equal(t, []string{OutcomeEmpty}, recorder.outcomes)
	})

	t.Run("persists one chain per session and links prompts", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, 10*time.Minute, 50*time.Minute))
		recorder := &recordingRecorder{}
		o := newTestOrchestrator(t, store, DefaultConfig(), WithRecorder(recorder))

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, DetectionResult{ChainsDetected: 2}, *result)

		chains, err := store.ListChains(ctx, userID)
		require.NoError(t, err)
		require.Len(t, chains, 2)

		// newest first
		assert.Equal(t, 1, chains[0].PromptCount)
		assert.Equal(t, 2, chains[1].PromptCount)
		assert.Equal(t, base, chains[1].StartTimestamp)
		assert.Equal(t, base.Add(10*time.Minute), chains[1].EndTimestamp)
		assert.Equal(t, domain.LoopResolved, chains[1].LoopPattern)
		assert.Empty(t, chains[1].IdempotencyKey)

		assert.Equal(t, chains[1].ID, store.ChainIDOf(userID, "p1"))
		assert.Equal(t, chains[1].ID, store.ChainIDOf(userID, "p2"))
		assert.Equal(t, chains[0].ID, store.ChainIDOf(userID, "p3"))

		assert.Equal(t, []string{OutcomeSuccess}, recorder.outcomes)
		assert.Equal(t, []DetectionResult{{ChainsDetected: 2}}, recorder.results)
	})

	t.Run("rerun skips linked prompts", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, 10*time.Minute))
		o := newTestOrchestrator(t, store, DefaultConfig())

		first, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, first.ChainsDetected)

		second, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, second.ChainsDetected)
		assert.Equal(t, 1, store.Calls("InsertChain"))
	})

	t.Run("lookback excludes older prompts", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, 5*time.Hour, 5*time.Hour+time.Minute))
		o := newTestOrchestrator(t, store, DefaultConfig())

		result, err := o.DetectAndPersistChains(ctx, userID, 2*time.Hour)

		require.NoError(t, err)
		assert.Equal(t, 1, result.ChainsDetected)
		assert.Empty(t, store.ChainIDOf(userID, "p1"))
		assert.NotEmpty(t, store.ChainIDOf(userID, "p2"))
	})

	t.Run("configured threshold drives segmentation", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, 10*time.Minute, 20*time.Minute))
		cfg := DefaultConfig()
		cfg.ThresholdMinutes = 5
		o := newTestOrchestrator(t, store, cfg)

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, 3, result.ChainsDetected)
	})

	t.Run("candidate fetch failure is returned", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0))
		store.SetError("FindUnchainedPrompts", errors.New("connection refused"))
		recorder := &recordingRecorder{}
		o := newTestOrchestrator(t, store, DefaultConfig(), WithRecorder(recorder))

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "chain processing failed")
		assert.Equal(t, 0, store.Calls("InsertChain"))
		assert.Equal(t, []string{OutcomeFailed}, recorder.outcomes)
	})

	t.Run("empty user id is rejected", func(t *testing.T) {
		o := newTestOrchestrator(t, memory.NewStore(), DefaultConfig())
		_, err := o.DetectAndPersistChains(ctx, " ", 0)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestDetectAndPersistChains_PartialFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("failed insert is skipped and batch continues", func(t *testing.T) {
		store := &flakyStore{
			Store: memory.NewStore(),
			failInsert: func(r domain.ChainRecord) bool {
				return r.PromptCount == 2
			},
		}
		seed(store.Store, promptsAt(0, time.Minute, 2*time.Hour, 4*time.Hour))
		o := newTestOrchestrator(t, store, DefaultConfig())

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, DetectionResult{ChainsDetected: 2, InsertFailures: 1}, *result)
		assert.Empty(t, store.ChainIDOf(userID, "p1"))
		assert.NotEmpty(t, store.ChainIDOf(userID, "p3"))
		assert.NotEmpty(t, store.ChainIDOf(userID, "p4"))
	})

	t.Run("every insert failing still succeeds with zero", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, 2*time.Hour))
		store.SetError("InsertChain", errors.New("table missing"))
		o := newTestOrchestrator(t, store, DefaultConfig())

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, DetectionResult{InsertFailures: 2}, *result)
		assert.Equal(t, 0, store.Calls("LinkPrompts"))
	})

	t.Run("link failure still counts the chain", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, time.Minute))
		store.SetError("LinkPrompts", errors.New("update rejected"))
		o := newTestOrchestrator(t, store, DefaultConfig())

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, DetectionResult{ChainsDetected: 1, LinkFailures: 1}, *result)
	})

	t.Run("link failure leaves prompts eligible and the next run duplicates the chain", func(t *testing.T) {
		store := &flakyStore{
			Store:    memory.NewStore(),
			failLink: func([]string) bool { return true },
		}
		seed(store.Store, promptsAt(0, time.Minute))
		o := newTestOrchestrator(t, store, DefaultConfig())

		first, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, first.ChainsDetected)

		store.heal()
		second, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, second.ChainsDetected)

		chains, err := store.ListChains(ctx, userID)
		require.NoError(t, err)
		require.Len(t, chains, 2)
		assert.Equal(t, chains[0].StartTimestamp, chains[1].StartTimestamp)
		assert.NotEqual(t, chains[0].ID, chains[1].ID)
	})

	t.Run("reuse on conflict relinks the existing chain", func(t *testing.T) {
		store := &flakyStore{
			Store:    memory.NewStore(),
			failLink: func([]string) bool { return true },
		}
		seed(store.Store, promptsAt(0, time.Minute))
		cfg := DefaultConfig()
		cfg.ReuseOnConflict = true
		o := newTestOrchestrator(t, store, cfg)

		first, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, DetectionResult{ChainsDetected: 1, LinkFailures: 1}, *first)

		store.heal()
		second, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, DetectionResult{Relinked: 1}, *second)

		chains, err := store.ListChains(ctx, userID)
		require.NoError(t, err)
		require.Len(t, chains, 1)
		assert.Equal(t, IdempotencyKey(userID, []string{"p1", "p2"}), chains[0].IdempotencyKey)
		assert.Equal(t, chains[0].ID, store.ChainIDOf(userID, "p1"))
		assert.Equal(t, chains[0].ID, store.ChainIDOf(userID, "p2"))

		third, err := o.DetectAndPersistChains(ctx, userID, 0)
		require.NoError(t, err)
		assert.Equal(t, DetectionResult{}, *third)
	})
}

func TestDetectAndPersistChains_Concurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("many sessions with bounded workers", func(t *testing.T) {
		store := memory.NewStore()
		offsets := make([]time.Duration, 40)
		for i := range offsets {
			offsets[i] = time.Duration(i) * time.Hour
		}
		prompts := promptsAt(offsets...)
		for i := range prompts {
			prompts[i].CreatedAt = now.Add(-48 * time.Hour).Add(offsets[i])
		}
		seed(store, prompts)
		cfg := DefaultConfig()
		cfg.MaxConcurrentPersists = 3
		o := newTestOrchestrator(t, store, cfg)

		result, err := o.DetectAndPersistChains(ctx, userID, 0)

		require.NoError(t, err)
		assert.Equal(t, 40, result.ChainsDetected)
		for _, p := range prompts {
			assert.NotEmpty(t, store.ChainIDOf(userID, p.ID))
		}
	})

	t.Run("concurrent runs for one user do not duplicate chains", func(t *testing.T) {
		store := memory.NewStore()
		seed(store, promptsAt(0, time.Minute, 2*time.Hour, 2*time.Hour+time.Minute))
		o := newTestOrchestrator(t, store, DefaultConfig())

		var wg sync.WaitGroup
		totals := make([]int, 5)
		for i := range totals {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := o.DetectAndPersistChains(ctx, userID, 0)
				if assert.NoError(t, err) {
					totals[i] = result.ChainsDetected
				}
			}()
		}
		wg.Wait()

		sum := 0
		for _, n := range totals {
			sum += n
		}
		assert.Equal(t, 2, sum)

		chains, err := store.ListChains(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, chains, 2)
		assert.Equal(t, 0, o.locks.size())
	})

	t.Run("waiting for a held user lock honours cancellation", func(t *testing.T) {
		o := newTestOrchestrator(t, memory.NewStore(), DefaultConfig())
		unlock, err := o.locks.acquire(ctx, userID)
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err = o.DetectAndPersistChains(cctx, userID, 0)
		assert.True(t, apperrors.IsTimeout(err))
	})

	t.Run("other users are not blocked", func(t *testing.T) {
		store := memory.NewStore()
		store.AddPrompt("user-2", domain.PromptRecord{ID: "x1", PromptText: "hi", CreatedAt: now.Add(-time.Hour)})
		o := newTestOrchestrator(t, store, DefaultConfig())
		unlock, err := o.locks.acquire(ctx, userID)
		require.NoError(t, err)
		defer unlock()

		result, err := o.DetectAndPersistChains(ctx, "user-2", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ChainsDetected)
	})
}

func TestUpdateConfig(t *testing.T) {
	o := NewOrchestrator(memory.NewStore(), Config{}, nil)
	assert.Equal(t, DefaultConfig(), o.Config())

	o.UpdateConfig(Config{ThresholdMinutes: 10, RunTimeout: time.Second})
	got := o.Config()
	assert.Equal(t, 10.0, got.ThresholdMinutes)
	assert.Equal(t, time.Second, got.RunTimeout)
	assert.Equal(t, DefaultLookback, got.Lookback)
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey(userID, []string{"p1", "p2"})
	assert.Equal(t, a, IdempotencyKey(userID, []string{"p1", "p2"}))
	assert.NotEqual(t, a, IdempotencyKey(userID, []string{"p2", "p1"}))
	assert.NotEqual(t, a, IdempotencyKey("user-2", []string{"p1", "p2"}))
}
