package bucket

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestLedgerInvariants drives a bucket through random operation sequences
// and checks that remaining tokens always stay within [0, allocation], that
// the history never exceeds its cap, and that spending within one period
// conserves tokens.
func TestLedgerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alloc := rapid.Int64Range(1, 10000).Draw(t, "alloc")
		b := New(Config{DailyTokenAllocation: alloc})
		clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return clock }

		users := []string{"alice", "bob"}
		ops := rapid.IntRange(1, 200).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			user := rapid.SampledFrom(users).Draw(t, fmt.Sprintf("user%d", i))
			switch rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("op%d", i)) {
			case 0, 1:
				tokens := rapid.Int64Range(0, 2*alloc).Draw(t, fmt.Sprintf("tokens%d", i))
				if _, err := b.RequestTokens(user, tokens, "m"); err != nil {
					t.Fatal(err)
				}
			case 2:
				grant := rapid.Int64Range(0, alloc).Draw(t, fmt.Sprintf("grant%d", i))
				if err := b.AddBonusTokens(user, grant); err != nil {
					t.Fatal(err)
				}
			case 3:
				b.ResetUserBucket(user)
			case 4:
				clock = clock.Add(time.Duration(rapid.Int64Range(0, 48).Draw(t, fmt.Sprintf("adv%d", i))) * time.Hour)
			}

			for _, u := range users {
				bal := b.Balance(u)
				if bal.RemainingTokens < 0 {
					t.Fatalf("negative balance for %s: %d", u, bal.RemainingTokens)
				}
				if bal.RemainingTokens > bal.DailyAllocation {
					t.Fatalf("balance above allocation for %s: %d > %d", u, bal.RemainingTokens, bal.DailyAllocation)
				}
				if n := len(b.UsageStats(u).History); n > historyLimit {
					t.Fatalf("history over cap for %s: %d", u, n)
				}
			}
		}
	})
}

// TestConservationWithinPeriod checks that with no resets or grants, the
// balance equals the allocation minus the sum of allowed charges.
func TestConservationWithinPeriod(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alloc := rapid.Int64Range(1, 100000).Draw(t, "alloc")
		b := New(Config{DailyTokenAllocation: alloc})
		// Pinned clock: the period never rolls over.
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return now }

		var spent int64
		n := rapid.IntRange(1, 100).Draw(t, "n")
		for i := 0; i < n; i++ {
			tokens := rapid.Int64Range(0, alloc).Draw(t, fmt.Sprintf("tokens%d", i))
			res, err := b.RequestTokens("u", tokens, "m")
			if err != nil {
				t.Fatal(err)
			}
			if res.Allowed {
				spent += tokens
			}
		}

		bal := b.Balance("u")
		if bal.RemainingTokens != alloc-spent {
			t.Fatalf("conservation violated: %d remaining, want %d", bal.RemainingTokens, alloc-spent)
		}
		if bal.UsedToday != spent {
			t.Fatalf("used counter drifted: %d, want %d", bal.UsedToday, spent)
		}
	})
}
