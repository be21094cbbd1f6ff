package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klauern/postsync/internal/apperr"
)

func fastPolicy(tries uint) Policy {
	return Policy{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		tries     uint
		wantCalls int
		wantErr   bool
		wantKind  apperr.Kind
	}{
		{
			name:      "success first try",
			errs:      []error{nil},
			tries:     3,
			wantCalls: 1,
		},
		{
			name:      "transient then success",
			errs:      []error{apperr.Transient("list", errors.New("reset")), nil},
			tries:     3,
			wantCalls: 2,
		},
		{
			name: "rate limited retried until exhausted",
			errs: []error{
				apperr.FromStatus("bluesky", "delete", 429, "slow down"),
				apperr.FromStatus("bluesky", "delete", 429, "slow down"),
				apperr.FromStatus("bluesky", "delete", 429, "slow down"),
			},
			tries:     3,
			wantCalls: 3,
			wantErr:   true,
			wantKind:  apperr.KindRateLimited,
		},
		{
			name:      "auth error is not retried",
			errs:      []error{apperr.Auth("mastodon", "token rejected", nil), nil},
			tries:     3,
			wantCalls: 1,
			wantErr:   true,
			wantKind:  apperr.KindAuth,
		},
		{
			name:      "plain error is not retried",
			errs:      []error{errors.New("boom"), nil},
			tries:     3,
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "zero tries means one attempt",
			errs:      []error{apperr.Transient("list", errors.New("reset")), nil},
			tries:     0,
			wantCalls: 1,
			wantErr:   true,
			wantKind:  apperr.KindTransientNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Do(context.Background(), "test", fastPolicy(tt.tries), func() (int, error) {
				err := tt.errs[calls]
				calls++
				return calls, err
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantKind != "" && !apperr.IsKind(err, tt.wantKind) {
				t.Errorf("error kind = %q, want %q", apperr.KindOf(err), tt.wantKind)
			}
			if !tt.wantErr && got != tt.wantCalls {
				t.Errorf("result = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Void(ctx, "test", Policy{MaxTries: 10, InitialInterval: time.Hour, MaxInterval: time.Hour}, func() error {
		calls++
		cancel()
		return apperr.Transient("list", errors.New("reset"))
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetries(t *testing.T) {
	if got := DefaultPolicy().WithRetries(3).MaxTries; got != 4 {
		t.Errorf("WithRetries(3).MaxTries = %d, want 4", got)
	}
	if got := DefaultPolicy().WithRetries(-1).MaxTries; got != 1 {
		t.Errorf("WithRetries(-1).MaxTries = %d, want 1", got)
	}
}
