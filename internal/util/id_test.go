package util

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID(TaskPrefix)
	b := NewID(TaskPrefix)

	if !strings.HasPrefix(a, TaskPrefix) {
		t.Errorf("NewID() = %q, want prefix %q", a, TaskPrefix)
	}
	if len(a) != len(TaskPrefix)+idSuffixLength {
		t.Errorf("NewID() length = %d, want %d", len(a), len(TaskPrefix)+idSuffixLength)
	}
	if a == b {
		t.Errorf("NewID() returned the same ID twice: %q", a)
	}
}

// mockResolver implements IDPrefixResolver for testing.
type mockResolver struct {
	ids []string
	err error
}

func (m *mockResolver) FindIDsByPrefix(_ context.Context, prefix string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var matches []string
	for _, id := range m.ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("database error")

	tests := []struct {
		name       string
		resolver   *mockResolver
		prefix     string
		idOrPrefix string
		want       string
		wantErr    error
	}{
		{
			name:       "full ID exact match",
			resolver:   &mockResolver{ids: []string{"task-abcdef123456", "task-xyz123456789"}},
			prefix:     TaskPrefix,
			idOrPrefix: "task-abcdef123456",
			want:       "task-abcdef123456",
		},
		{
			name:       "prefix without entity prefix",
			resolver:   &mockResolver{ids: []string{"comp-abcdef123456", "comp-xyz123456789"}},
			prefix:     ComponentPrefix,
			idOrPrefix: "abc",
			want:       "comp-abcdef123456",
		},
		{
			name:       "ambiguous",
			resolver:   &mockResolver{ids: []string{"task-abc111111111", "task-abc222222222"}},
			prefix:     TaskPrefix,
			idOrPrefix: "task-abc",
			wantErr:    ErrAmbiguousID,
		},
		{
			name:       "none",
			resolver:   &mockResolver{ids: []string{"task-abcdef123456"}},
			prefix:     TaskPrefix,
			idOrPrefix: "xyz",
			wantErr:    ErrNotFound,
		},
		{
			name:       "empty ID",
			resolver:   &mockResolver{},
			prefix:     BaselinePrefix,
			idOrPrefix: "",
			wantErr:    ErrNotFound,
		},
		{
			name:       "resolver error",
			resolver:   &mockResolver{err: dbErr},
			prefix:     TaskPrefix,
			idOrPrefix: "abc",
			wantErr:    dbErr,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveID(ctx, tc.resolver, tc.prefix, tc.idOrPrefix)

			if tc.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error %v, got nil", tc.wantErr)
				}
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ResolveID() = %q, want %q", got, tc.want)
			}
		})
	}
}
