package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/stretchr/testify/require"
)

type failingKV struct {
	getErr error
	setErr error
	data   []byte
}

func (f *failingKV) Get(context.Context, string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.data == nil {
		return nil, ErrNotFound
	}
	return f.data, nil
}

func (f *failingKV) Set(_ context.Context, _ string, v []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.data = v
	return nil
}

// fixedClock advances one millisecond per call.
func fixedClock() func() time.Time {
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func seqIDs(s *Store) {
	n := 0
	s.newID = func() (string, error) {
		n++
		return fmt.Sprintf("0000-conv-%04d", n), nil
	}
}

func newTestStore(t *testing.T, kv KV) *Store {
	t.Helper()
	s := Open(context.Background(), kv, WithClock(fixedClock()))
	seqIDs(s)
	return s
}

func user(s string) kya.Message      { return kya.Message{Role: kya.RoleUser, Content: s} }
func assistant(s string) kya.Message { return kya.Message{Role: kya.RoleAssistant, Content: s} }

func ids(convs []Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name     string
		messages []kya.Message
		want     string
	}{
		{
			name: "no messages",
			want: DefaultTitle,
		},
		{
			name:     "only assistant",
			messages: []kya.Message{assistant("hello")},
			want:     DefaultTitle,
		},
		{
			name:     "short user message",
			messages: []kya.Message{user("What is FMD?")},
			want:     "What is FMD?",
		},
		{
			name:     "exactly forty characters",
			messages: []kya.Message{user(strings.Repeat("a", 40))},
			want:     strings.Repeat("a", 40),
		},
		{
			name:     "forty one characters",
			messages: []kya.Message{user(strings.Repeat("a", 41))},
			want:     strings.Repeat("a", 40) + "…",
		},
		{
			name:     "first user message wins",
			messages: []kya.Message{assistant("hi"), user("first"), user("second")},
			want:     "first",
		},
		{
			name:     "counts characters not bytes",
			messages: []kya.Message{user(strings.Repeat("गाय", 20))},
			want:     string([]rune(strings.Repeat("गाय", 20))[:40]) + "…",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DeriveTitle(tt.messages))
		})
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryKV())

	id, err := s.Create(ctx, []kya.Message{user("My cow has fever")})
	require.NoError(t, err)
	require.Equal(t, id, s.Active())

	convs := s.List()
	require.Len(t, convs, 1)
	require.Equal(t, "My cow has fever", convs[0].Title)
	require.Equal(t, []kya.Message{user("My cow has fever")}, convs[0].Messages)
	require.NotZero(t, convs[0].UpdatedAt)

	id2, err := s.Create(ctx, nil)
	require.NoError(t, err)
	require.NotEqual(t, id, id2)
	require.Equal(t, []string{id2, id}, ids(s.List()))
	require.Equal(t, DefaultTitle, s.List()[0].Title)
	require.Equal(t, id2, s.Active())
}

func TestCreate_RealIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, NewMemoryKV())
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := s.Create(ctx, nil)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestUpdate_MovesToFront(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryKV())

	a, _ := s.Create(ctx, []kya.Message{user("a")})
	b, _ := s.Create(ctx, []kya.Message{user("b")})
	c, _ := s.Create(ctx, []kya.Message{user("c")})
	require.Equal(t, []string{c, b, a}, ids(s.List()))

	before, _ := s.Get(a)
	require.NoError(t, s.Update(ctx, a, []kya.Message{user("a2"), assistant("x")}))
	require.Equal(t, []string{a, c, b}, ids(s.List()))

	after, ok := s.Get(a)
	require.True(t, ok)
	require.Equal(t, "a2", after.Title)
	require.Greater(t, after.UpdatedAt, before.UpdatedAt)
	if diff := cmp.Diff([]kya.Message{user("a2"), assistant("x")}, after.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.Update(ctx, b, []kya.Message{user("b")}))
	require.Equal(t, []string{b, a, c}, ids(s.List()))
}

func TestUpdate_UnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newTestStore(t, kv)
	id, _ := s.Create(ctx, []kya.Message{user("a")})
	before, _ := kv.Get(ctx, DefaultKey)

	require.NoError(t, s.Update(ctx, "missing", []kya.Message{user("zzz")}))
	after, _ := kv.Get(ctx, DefaultKey)
	require.Equal(t, before, after)
	require.Equal(t, []string{id}, ids(s.List()))
}

func TestUpdate_RecomputesTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryKV())
	id, _ := s.Create(ctx, nil)
	require.Equal(t, DefaultTitle, s.List()[0].Title)

	require.NoError(t, s.Update(ctx, id, []kya.Message{user("Goat cough")}))
	require.Equal(t, "Goat cough", s.List()[0].Title)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("active conversation clears pointer", func(t *testing.T) {
		s := newTestStore(t, NewMemoryKV())
		a, _ := s.Create(ctx, []kya.Message{user("a")})
		b, _ := s.Create(ctx, []kya.Message{user("b")})
		require.Equal(t, b, s.Active())

		require.NoError(t, s.Delete(ctx, b))
		require.Equal(t, "", s.Active())
		require.Equal(t, []string{a}, ids(s.List()))
	})

	t.Run("other conversation keeps pointer", func(t *testing.T) {
		s := newTestStore(t, NewMemoryKV())
		a, _ := s.Create(ctx, []kya.Message{user("a")})
		b, _ := s.Create(ctx, []kya.Message{user("b")})

		require.NoError(t, s.Delete(ctx, a))
		require.Equal(t, b, s.Active())
		require.Equal(t, []string{b}, ids(s.List()))
	})

	t.Run("unknown id", func(t *testing.T) {
		s := newTestStore(t, NewMemoryKV())
		a, _ := s.Create(ctx, []kya.Message{user("a")})
		require.NoError(t, s.Delete(ctx, "missing"))
		require.Equal(t, []string{a}, ids(s.List()))
	})
}

func TestMessagesOf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryKV())
	id, _ := s.Create(ctx, []kya.Message{user("a"), assistant("b")})

	msgs := s.MessagesOf(id)
	require.Equal(t, []kya.Message{user("a"), assistant("b")}, msgs)

	msgs[0].Content = "mutated"
	require.Equal(t, "a", s.MessagesOf(id)[0].Content)

	missing := s.MessagesOf("nope")
	require.NotNil(t, missing)
	require.Empty(t, missing)
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newTestStore(t, kv)

	a, _ := s.Create(ctx, []kya.Message{user("a")})
	b, _ := s.Create(ctx, []kya.Message{user("b"), assistant("answer")})
	require.NoError(t, s.Update(ctx, a, []kya.Message{user("a"), assistant("x")}))

	reopened := Open(ctx, kv)
	if diff := cmp.Diff(s.List(), reopened.List()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{a, b}, ids(reopened.List()))
	require.Equal(t, "", reopened.Active())
}

func TestStoredFormat(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newTestStore(t, kv)
	_, err := s.Create(ctx, []kya.Message{user("hi")})
	require.NoError(t, err)

	raw, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "0000-conv-0001", decoded[0]["id"])
	require.Equal(t, "hi", decoded[0]["title"])
	require.Contains(t, decoded[0], "updatedAt")
	require.Equal(t, []any{map[string]any{"role": "user", "content": "hi"}}, decoded[0]["messages"])
}

func TestOpen_FailsSoft(t *testing.T) {
	ctx := context.Background()

	t.Run("read error", func(t *testing.T) {
		s := Open(ctx, &failingKV{getErr: errors.New("disk gone")})
		require.Empty(t, s.List())
	})

	t.Run("malformed data", func(t *testing.T) {
		s := Open(ctx, &failingKV{data: []byte("{not json")})
		require.Empty(t, s.List())
	})

	t.Run("wrong shape", func(t *testing.T) {
		s := Open(ctx, &failingKV{data: []byte(`{"id":"x"}`)})
		require.Empty(t, s.List())
	})

	t.Run("custom key", func(t *testing.T) {
		kv := NewMemoryKV()
		require.NoError(t, kv.Set(ctx, "other", []byte(`[{"id":"x","title":"t","messages":null,"updatedAt":1}]`)))
		s := Open(ctx, kv, WithKey("other"))
		require.Len(t, s.List(), 1)
		require.NotNil(t, s.List()[0].Messages)
		require.Empty(t, Open(ctx, kv).List())
	})
}

func TestOpen_NormalizesRoles(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	raw := `[{"id":"x","title":"t","updatedAt":1,"messages":[` +
		`{"role":"User","content":"q"},` +
		`{"role":"tool","content":"ignored"},` +
		`{"role":" assistant ","content":"a"}]}]`
	require.NoError(t, kv.Set(ctx, DefaultKey, []byte(raw)))

	s := Open(ctx, kv)
	require.Equal(t, []kya.Message{user("q"), assistant("a")}, s.MessagesOf("x"))
}

func TestWriteFailureKeepsMemoryModel(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{setErr: errors.New("quota exceeded")}
	s := newTestStore(t, kv)

	id, err := s.Create(ctx, []kya.Message{user("a")})
	require.ErrorContains(t, err, "quota exceeded")
	require.NotEmpty(t, id)
	require.Equal(t, []string{id}, ids(s.List()))

	err = s.Update(ctx, id, []kya.Message{user("a"), assistant("b")})
	require.Error(t, err)
	require.Len(t, s.MessagesOf(id), 2)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := newTestStore(t, kv)
	_, _ = s.Create(ctx, []kya.Message{user("a")})
	_, _ = s.Create(ctx, []kya.Message{user("b")})

	require.NoError(t, s.Clear(ctx))
	require.Empty(t, s.List())
	require.Equal(t, "", s.Active())
	require.Empty(t, Open(ctx, kv).List())
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, NewMemoryKV())
	ids := []string{
		"019a0000-0000-7000-8000-00000000aaaa",
		"019a0000-0000-7000-8000-00000000bbbb",
		"019b0000-0000-7000-8000-0000000cbbbb",
	}
	n := 0
	s.newID = func() (string, error) {
		id := ids[n]
		n++
		return id, nil
	}
	for range ids {
		_, err := s.Create(ctx, nil)
		require.NoError(t, err)
	}

	got, err := s.Find("latest")
	require.NoError(t, err)
	require.Equal(t, ids[2], got.ID)

	got, err = s.Find(ids[0])
	require.NoError(t, err)
	require.Equal(t, ids[0], got.ID)

	got, err = s.Find("0000aaaa")
	require.NoError(t, err)
	require.Equal(t, ids[0], got.ID)

	got, err = s.Find("019b")
	require.NoError(t, err)
	require.Equal(t, ids[2], got.ID)

	_, err = s.Find("bbbb")
	var amb *AmbiguousIDError
	require.ErrorAs(t, err, &amb)
	require.Len(t, amb.Matches, 2)

	_, err = s.Find("abc")
	require.ErrorContains(t, err, "at least 4 characters")

	_, err = s.Find("ffff")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = Open(ctx, NewMemoryKV()).Find("latest")
	require.ErrorContains(t, err, "no conversations found")
}

func TestShortID(t *testing.T) {
	c := Conversation{ID: "019a0000-0000-7000-8000-00000000aaaa"}
	require.Equal(t, "0000aaaa", c.ShortID())
	require.Equal(t, "abc", (&Conversation{ID: "abc"}).ShortID())
}
