package selector

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/extension"
)

type processor struct{ name string }

func (p processor) Process(order string) string { return p.name + ":" + order }

func ext(code string, priority int, opts ...extension.Option) *extension.Extension {
	opts = append([]extension.Option{extension.WithCode(code), extension.WithPriority(priority)}, opts...)
	return extension.New(processor{name: code}, opts...)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) RecordSelector(chain, selector string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, chain+"/"+selector)
}

func TestChain_CodeMatchBeatsPriority(t *testing.T) {
	mall := ext("mall", 10)
	logistics := ext("logistics", 20)
	candidates := []*extension.Extension{mall, logistics}

	got, err := NewChain("code", Code()).Resolve(candidates, extension.NewContext("logistics"))
	require.NoError(t, err)
	assert.Same(t, logistics, got)
}

func TestChain_FirstNonNilWins(t *testing.T) {
	var calls []string
	named := func(name string, pick *extension.Extension) Selector {
		return Func(name, func([]*extension.Extension, extension.Context) (*extension.Extension, error) {
			calls = append(calls, name)
			return pick, nil
		})
	}

	a, b := ext("a", 1), ext("b", 2)
	chain := NewChain("ordered", named("s1", nil), named("s2", b), named("s3", a))

	got, err := chain.Resolve([]*extension.Extension{a, b}, extension.NewContext(""))
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, []string{"s1", "s2"}, calls)
}

func TestChain_EmptyCandidatesSkipsSelectors(t *testing.T) {
	called := false
	chain := NewChain("empty", Func("spy", func([]*extension.Extension, extension.Context) (*extension.Extension, error) {
		called = true
		return nil, nil
	}))

	got, err := chain.Resolve(nil, extension.NewContext("x"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, called)
}

func TestChain_NoMatchIsNil(t *testing.T) {
	got, err := NewChain("code", Code()).Resolve([]*extension.Extension{ext("a", 1)}, extension.NewContext("zzz"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChain_SelectorFailuresAreContained(t *testing.T) {
	fallback := ext("fallback", 1)
	chain := NewChain("faulty",
		Func("panics", func([]*extension.Extension, extension.Context) (*extension.Extension, error) {
			panic("boom")
		}),
		Func("errors", func([]*extension.Extension, extension.Context) (*extension.Extension, error) {
			return nil, fmt.Errorf("backend down")
		}),
		First(),
	)

	got, err := chain.Resolve([]*extension.Extension{fallback}, extension.NewContext(""))
	require.NoError(t, err)
	assert.Same(t, fallback, got)
}

func TestChain_MultipleMatchedPropagates(t *testing.T) {
	chain := NewChain("unique",
		Unique("grey-unique", func(e *extension.Extension, _ extension.Context) bool {
			return e.Tags.Matches(TagGrey, "true")
		}),
		First(),
	)
	candidates := []*extension.Extension{
		ext("a", 1, extension.WithTag(TagGrey, true)),
		ext("b", 2, extension.WithTag(TagGrey, true)),
	}

	got, err := chain.Resolve(candidates, extension.NewContext(""))
	assert.Nil(t, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMultipleMatched)
}

func TestChain_Mutation(t *testing.T) {
	chain := NewChain("mut", Code(), nil)
	assert.Equal(t, 1, chain.Len())

	chain.Add(First())
	chain.Insert(0, CodeVersion())
	chain.Add(nil)

	var names []string
	for _, s := range chain.Selectors() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{NameCodeVersion, NameCode, NameFirst}, names)

	assert.True(t, chain.Remove(NameCode))
	assert.False(t, chain.Remove(NameCode))
	assert.Equal(t, 2, chain.Len())

	snapshot := chain.Selectors()
	snapshot[0] = nil
	assert.NotNil(t, chain.Selectors()[0])
}

func TestChain_ConcurrentResolveAndMutate(t *testing.T) {
	chain := DefaultChain()
	candidates := []*extension.Extension{ext("a", 1), ext("b", 2)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				got, err := chain.Resolve(candidates, extension.NewContext("b"))
				assert.NoError(t, err)
				assert.NotNil(t, got)
			}
		}()
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("transient-%d", i)
			for j := 0; j < 50; j++ {
				chain.Add(Predicate(name, func(*extension.Extension, extension.Context) bool { return false }))
				chain.Remove(name)
			}
		}(i)
	}
	wg.Wait()
}

func TestBuiltins(t *testing.T) {
	v1 := ext("pay", 1, extension.WithVersion("1.0"))
	v2 := ext("pay", 2, extension.WithVersion("2.0"))
	tenantA := ext("tenant-a", 3, extension.WithTag(extension.KeyTenant, "acme"))
	groupB := ext("group-b", 4, extension.WithTag(extension.KeyGroup, []string{"B", "C"}))
	grey := ext("pay", 5, extension.WithTag(TagGrey, true))
	region := ext("regional", 6, extension.WithTags(extension.Tags{"region": "eu", "channel": "web"}))
	disabled := ext("off", 0, extension.WithEnabled(false))
	all := []*extension.Extension{disabled, v1, v2, tenantA, groupB, grey, region}

	tests := []struct {
		name     string
		selector Selector
		ctx      extension.Context
		want     *extension.Extension
	}{
		{"code picks highest priority", Code(), extension.NewContext("pay"), v1},
		{"code without code", Code(), extension.NewContext(""), nil},
		{"code-version exact", CodeVersion(), extension.NewContext("pay").WithVersion("2.0"), v2},
		{"code-version any version", CodeVersion(), extension.NewContext("pay"), v1},
		{"code-version unknown version", CodeVersion(), extension.NewContext("pay").WithVersion("9"), nil},
		{"tenant", Tenant(), extension.NewContext("").With(extension.KeyTenant, "acme"), tenantA},
		{"tenant missing attribute", Tenant(), extension.NewContext(""), nil},
		{"group list membership", Group(), extension.NewContext("").With(extension.KeyGroup, "C"), groupB},
		{"grey listed user", GreyList("grey", extension.KeyUser, []string{"u1"}),
			extension.NewContext("pay").With(extension.KeyUser, "u1"), grey},
		{"grey other user", GreyList("grey", extension.KeyUser, []string{"u1"}),
			extension.NewContext("pay").With(extension.KeyUser, "u2"), nil},
		{"multi-field all match", MultiField("geo", "region", "channel"),
			extension.NewContext("").With("region", "eu").With("channel", "web"), region},
		{"multi-field missing one", MultiField("geo", "region", "channel"),
			extension.NewContext("").With("region", "eu"), nil},
		{"multi-field mismatch", MultiField("geo", "region", "channel"),
			extension.NewContext("").With("region", "us").With("channel", "web"), nil},
		{"first skips disabled", First(), extension.NewContext(""), v1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.selector.Select(all, test.ctx)
			require.NoError(t, err)
			assert.Same(t, test.want, got)

			got, err = test.selector.Select(nil, test.ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestBucket_StableSplit(t *testing.T) {
	control := ext("control", 1)
	treatment := ext("treatment", 2)
	candidates := []*extension.Extension{control, treatment}
	s := Bucket("ab", extension.KeyUser, []BucketRange{{Code: "control", Upto: 50}, {Code: "treatment", Upto: 100}})

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		user := fmt.Sprintf("user-%d", i)
		ctx := extension.NewContext("").With(extension.KeyUser, user)

		got, err := s.Select(candidates, ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		counts[got.Code]++

		again, _ := s.Select(candidates, ctx)
		assert.Same(t, got, again, "bucket assignment must be stable")

		want := "control"
		if Slot(user) >= 50 {
			want = "treatment"
		}
		assert.Equal(t, want, got.Code)
	}
	assert.Greater(t, counts["control"], 300)
	assert.Greater(t, counts["treatment"], 300)

	got, err := s.Select(candidates, extension.NewContext(""))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCatalog_Defaults(t *testing.T) {
	c := NewCatalog()
	assert.Equal(t, []string{DefaultChainName}, c.Chains())

	for _, name := range []string{NameCode, NameCodeVersion, NameTenant, NameGroup, NameFirst} {
		_, err := c.Selector(name)
		assert.NoError(t, err, name)
	}

	mall, logistics := ext("mall", 10), ext("logistics", 20)
	got, err := c.Resolve(DefaultChainName, []*extension.Extension{mall, logistics}, extension.NewContext("logistics"))
	require.NoError(t, err)
	assert.Same(t, logistics, got)

	got, err = c.Resolve(DefaultChainName, []*extension.Extension{mall, logistics}, extension.NewContext("unknown"))
	require.NoError(t, err)
	assert.Same(t, mall, got)
}

func TestCatalog_Errors(t *testing.T) {
	c := NewCatalog()

	_, err := c.Chain("missing")
	assert.ErrorIs(t, err, errors.ErrSelectorChainNotFound)
	assert.True(t, errors.IsFatal(err))

	_, err = c.Resolve("missing", []*extension.Extension{ext("a", 1)}, extension.NewContext("a"))
	assert.ErrorIs(t, err, errors.ErrSelectorChainNotFound)

	_, err = c.BuildChain("broken", []string{NameCode, "nope"})
	assert.ErrorIs(t, err, errors.ErrSelectorNotFound)
	assert.NotContains(t, c.Chains(), "broken")

	assert.True(t, errors.IsInvalid(c.RegisterSelector(nil)))
	assert.True(t, errors.IsInvalid(c.RegisterChain(nil)))
	assert.True(t, errors.IsInvalid(c.RegisterChain(NewChain(""))))
}

func TestCatalog_BuildChainWithCustomSelector(t *testing.T) {
	obs := &recordingObserver{}
	c := NewCatalog(WithObserver(obs))
	require.NoError(t, c.RegisterSelector(GreyList("grey-users", extension.KeyUser, []string{"42"})))

	chain, err := c.BuildChain("grey", []string{"grey-users", NameCode, NameFirst})
	require.NoError(t, err)
	assert.Equal(t, 3, chain.Len())
	assert.Equal(t, []string{"default", "grey"}, c.Chains())

	stable := ext("mall", 1)
	canary := ext("mall", 2, extension.WithTag(TagGrey, "true"))
	candidates := []*extension.Extension{stable, canary}

	got, err := c.Resolve("grey", candidates, extension.NewContext("mall").With(extension.KeyUser, "42"))
	require.NoError(t, err)
	assert.Same(t, canary, got)

	got, err = c.Resolve("grey", candidates, extension.NewContext("mall").With(extension.KeyUser, "7"))
	require.NoError(t, err)
	assert.Same(t, stable, got)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"grey/grey-users", "grey/grey-users", "grey/code"}, obs.calls)
}

func TestCatalog_LogsSelectorFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewCatalog(WithLogger(logger))
	require.NoError(t, c.RegisterChain(NewChain("flaky",
		Func("flaky", func([]*extension.Extension, extension.Context) (*extension.Extension, error) {
			return nil, fmt.Errorf("lookup table unavailable")
		}),
		First(),
	)))

	got, err := c.Resolve("flaky", []*extension.Extension{ext("a", 1)}, extension.NewContext(""))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, buf.String(), "lookup table unavailable")
	assert.Contains(t, buf.String(), "selector=flaky")
}
