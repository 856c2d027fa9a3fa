package source

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/examfit/corpus/engine/domain"
)

type stubFetcher struct {
	name string
	p    Payload
	err  error
}

func (s stubFetcher) Name() string { return s.name }

func (s stubFetcher) Fetch(context.Context) (Payload, error) { return s.p, s.err }

func rec(title string) domain.Record {
	return domain.Record{ID: title, Title: title}
}

func TestCollectClassifies(t *testing.T) {
	ctx := context.Background()
	found := Collect(ctx, stubFetcher{name: "a", p: Payload{Records: []domain.Record{rec("x")}}})
	if found.Status != StatusFound || found.Err != nil {
		t.Fatalf("found: %+v", found)
	}
	empty := Collect(ctx, stubFetcher{name: "b"})
	if empty.Status != StatusEmpty {
		t.Fatalf("empty: %+v", empty)
	}
	boom := errors.New("boom")
	failed := Collect(ctx, stubFetcher{name: "c", p: Payload{Records: []domain.Record{rec("partial")}}, err: boom})
	if failed.Status != StatusFailed || !errors.Is(failed.Err, boom) {
		t.Fatalf("failed: %+v", failed)
	}
	if failed.Payload.Len() != 0 {
		t.Fatal("failed outcome must not carry a payload")
	}
	if !strings.Contains(failed.Err.Error(), "source c") {
		t.Fatalf("error should name the source: %v", failed.Err)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{StatusFound: "found", StatusEmpty: "empty", StatusFailed: "failed", Status(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d: got %q", s, s.String())
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry(stubFetcher{name: "pib"}, stubFetcher{name: "gnews"}, stubFetcher{name: "exams"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Resolve([]string{"pib", "exams", "pib"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name() != "pib" || got[1].Name() != "exams" {
		t.Fatalf("resolve order: %v", got)
	}

	all, err := r.Resolve(nil)
	if err != nil || len(all) != 3 || all[0].Name() != "exams" {
		t.Fatalf("resolve all: %v %v", all, err)
	}
}

func TestRegistryUnknownSource(t *testing.T) {
	r, _ := NewRegistry(stubFetcher{name: "pib"})
	_, err := r.Resolve([]string{"pib", "reddit", "twitter"})
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if !strings.Contains(err.Error(), "reddit") || !strings.Contains(err.Error(), "twitter") {
		t.Fatalf("error should list every unknown name: %v", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	if _, err := NewRegistry(stubFetcher{name: "pib"}, stubFetcher{name: "pib"}); !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("expected ErrDuplicateSource, got %v", err)
	}
}

func TestFetchAllKeepsOrderAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	fetchers := []Fetcher{
		stubFetcher{name: "one", p: Payload{Records: []domain.Record{rec("a"), rec("b")}}},
		stubFetcher{name: "two", err: errors.New("timeout")},
		stubFetcher{name: "three"},
		stubFetcher{name: "four", p: Payload{Records: []domain.Record{rec("c")}, Questions: []domain.Question{{QuestionID: "q"}}}},
	}
	out := FetchAll(context.Background(), fetchers, 2, logger)
	if len(out) != 4 {
		t.Fatalf("len = %d", len(out))
	}
	for i, want := range []string{"one", "two", "three", "four"} {
		if out[i].Source != want {
			t.Fatalf("outcome %d = %s", i, out[i].Source)
		}
	}
	if f := Failed(out); len(f) != 1 || f[0].Source != "two" {
		t.Fatalf("failed = %+v", f)
	}

	p, sources := Merge(out)
	if len(p.Records) != 3 || p.Records[0].Title != "a" || p.Records[2].Title != "c" || len(p.Questions) != 1 {
		t.Fatalf("merged payload %+v", p)
	}
	if len(sources) != 2 || sources[0] != "one" || sources[1] != "four" {
		t.Fatalf("sources %v", sources)
	}

	logs := buf.String()
	for _, want := range []string{"source failed", "source returned nothing", "source fetched"} {
		if !strings.Contains(logs, want) {
			t.Errorf("missing log %q in:\n%s", want, logs)
		}
	}
}
