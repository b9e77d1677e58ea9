package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/tidwall/sjson"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		paths   Paths
		want    Usage
		wantErr error
	}{
		{
			name:    "Flat",
			payload: `{"tokens_used": 1200, "requests_made": 4, "avg_response_time": 350.5, "active_users": 2, "error_count": 1}`,
			paths:   DefaultPaths(),
			want:    Usage{TokensUsed: 1200, RequestsMade: 4, AvgResponseTime: 350.5, ActiveUsers: 2, ErrorCount: 1},
		},
		{
			name:    "Nested",
			payload: `{"data": {"usage": {"total_tokens": 99, "calls": 3}}}`,
			paths:   Paths{Tokens: "data.usage.total_tokens", Requests: "data.usage.calls"},
			want:    Usage{TokensUsed: 99, RequestsMade: 3},
		},
		{
			name:    "OptionalMissing",
			payload: `{"tokens_used": 5}`,
			paths:   DefaultPaths(),
			want:    Usage{TokensUsed: 5},
		},
		{
			name:    "TokensMissing",
			payload: `{"requests_made": 5}`,
			paths:   DefaultPaths(),
			wantErr: ErrMissingField,
		},
		{
			name:    "NotJSON",
			payload: `tokens=5`,
			paths:   DefaultPaths(),
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.payload), tt.paths)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_Negative(t *testing.T) {
	payload, _ := sjson.Set(`{}`, "tokens_used", -3)
	if _, err := Parse([]byte(payload), DefaultPaths()); err == nil {
		t.Error("Parse() should reject negative token counts")
	}
}

func TestSourceFunc(t *testing.T) {
	src := SourceFunc(func(context.Context) (Usage, error) {
		return Usage{TokensUsed: 7, RequestsMade: 1}, nil
	})
	got, err := src.Fetch(context.Background())
	if err != nil || got.TokensUsed != 7 || got.RequestsMade != 1 {
		t.Errorf("Fetch() = %+v, %v", got, err)
	}
}

func TestCumulative(t *testing.T) {
	totals := []Usage{
		{TokensUsed: 1000, RequestsMade: 10, ActiveUsers: 2},
		{TokensUsed: 1500, RequestsMade: 12, ActiveUsers: 3},
		{TokensUsed: 1500, RequestsMade: 12, ActiveUsers: 3},
		{TokensUsed: 200, RequestsMade: 1, ActiveUsers: 1}, // counter reset
	}
	want := []Usage{
		{ActiveUsers: 2},
		{TokensUsed: 500, RequestsMade: 2, ActiveUsers: 3},
		{ActiveUsers: 3},
		{TokensUsed: 200, RequestsMade: 1, ActiveUsers: 1},
	}

	i := 0
	c := NewCumulative(SourceFunc(func(context.Context) (Usage, error) {
		u := totals[i]
		i++
		return u, nil
	}))

	for n := range totals {
		got, err := c.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch() #%d failed: %v", n, err)
		}
		if got != want[n] {
			t.Errorf("Fetch() #%d = %+v, want %+v", n, got, want[n])
		}
	}
}

func TestCumulative_ErrorKeepsBaseline(t *testing.T) {
	calls := 0
	c := NewCumulative(SourceFunc(func(context.Context) (Usage, error) {
		calls++
		switch calls {
		case 1:
			return Usage{TokensUsed: 100}, nil
		case 2:
			return Usage{}, errors.New("unavailable")
		default:
			return Usage{TokensUsed: 160}, nil
		}
	}))

	ctx := context.Background()
	_, _ = c.Fetch(ctx)
	if _, err := c.Fetch(ctx); err == nil {
		t.Fatal("Fetch() should pass the source error through")
	}
	got, err := c.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got.TokensUsed != 60 {
		t.Errorf("TokensUsed = %d, want 60", got.TokensUsed)
	}
}
