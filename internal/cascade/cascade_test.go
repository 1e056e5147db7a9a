package cascade

import (
	"context"
	"errors"
	"testing"
)

func constant(name string, v int, err error, calls *[]string) Candidate[int] {
	return Candidate[int]{
		Name: name,
		Try: func(context.Context) (int, error) {
			*calls = append(*calls, name)
			return v, err
		},
	}
}

func positive(v int) bool { return v > 0 }

func Test_First_Cases(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name       string
		build      func(calls *[]string) []Candidate[int]
		wantValue  int
		wantWinner string
		wantCalls  []string
		wantErr    bool
	}{
		{
			name: "first candidate wins",
			build: func(c *[]string) []Candidate[int] {
				return []Candidate[int]{constant("a", 1, nil, c), constant("b", 2, nil, c)}
			},
			wantValue: 1, wantWinner: "a", wantCalls: []string{"a"},
		},
		{
			name: "unusable falls through",
			build: func(c *[]string) []Candidate[int] {
				return []Candidate[int]{constant("a", 0, nil, c), constant("b", 2, nil, c)}
			},
			wantValue: 2, wantWinner: "b", wantCalls: []string{"a", "b"},
		},
		{
			name: "error falls through",
			build: func(c *[]string) []Candidate[int] {
				return []Candidate[int]{constant("a", 9, boom, c), constant("b", 3, nil, c)}
			},
			wantValue: 3, wantWinner: "b", wantCalls: []string{"a", "b"},
		},
		{
			name: "stop aborts",
			build: func(c *[]string) []Candidate[int] {
				return []Candidate[int]{constant("a", 0, Stop(boom), c), constant("b", 3, nil, c)}
			},
			wantCalls: []string{"a"}, wantErr: true,
		},
		{
			name: "all unusable",
			build: func(c *[]string) []Candidate[int] {
				return []Candidate[int]{constant("a", 0, nil, c), constant("b", -1, nil, c)}
			},
			wantCalls: []string{"a", "b"}, wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			out, err := First(context.Background(), tt.build(&calls), positive)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if out.Value != tt.wantValue || out.Winner != tt.wantWinner {
				t.Errorf("outcome = %+v", out)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
				}
			}
			if len(out.Attempts) != len(tt.wantCalls) {
				t.Errorf("attempts = %d, want %d", len(out.Attempts), len(tt.wantCalls))
			}
		})
	}
}

func Test_First_StopReturnsUnderlyingError(t *testing.T) {
	sentinel := errors.New("auth rejected")
	var calls []string
	_, err := First(context.Background(), []Candidate[int]{constant("a", 0, Stop(sentinel), &calls)}, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	var abort *Abort
	if errors.As(err, &abort) {
		t.Error("returned error should not be wrapped in Abort")
	}
}

func Test_First_ExhaustedIsSentinel(t *testing.T) {
	var calls []string
	_, err := First(context.Background(), []Candidate[int]{constant("", 0, nil, &calls)}, positive)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if _, err := First[int](context.Background(), nil, positive); !errors.Is(err, ErrExhausted) {
		t.Fatalf("empty list err = %v", err)
	}
}

func Test_First_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls []string
	_, err := First(ctx, []Candidate[int]{constant("a", 1, nil, &calls)}, positive)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}
