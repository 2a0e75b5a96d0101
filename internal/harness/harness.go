package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/contactsd/internal/access"
	"github.com/roach88/contactsd/internal/contacts"
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/notify"
	"github.com/roach88/contactsd/internal/querydoc"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/store"
	"github.com/roach88/contactsd/internal/testutil"
)

// observerLabel is the caller that records notifications.
const observerLabel = "harness:observer"

// Harness executes one scenario.
type Harness struct {
	svc    *contacts.Service
	conns  map[string]*contacts.Conn
	seq    *testutil.DeterministicClock
	result *Result
	logger *slog.Logger
}

// Run executes scenario against a fresh database and returns its result.
// Failed expectations are reported in the result; the error covers
// failures to set the run up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "contactsd-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	opts, err := serviceOptions(scenario)
	if err != nil {
		return nil, err
	}
	svc, err := contacts.New(ctx, st, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	h := &Harness{
		svc:    svc,
		conns:  make(map[string]*contacts.Conn),
		seq:    testutil.NewDeterministicClock(),
		result: NewResult(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	defer h.closeAll()

	observer, err := h.conn(ctx, observerLabel)
	if err != nil {
		return nil, err
	}
	if _, err := observer.Subscribe(notify.Wildcard, h.recordNotification); err != nil {
		return nil, fmt.Errorf("failed to subscribe observer: %w", err)
	}

	for i := range scenario.Steps {
		if err := h.runStep(ctx, i+1, &scenario.Steps[i]); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return h.result, nil
}

func serviceOptions(s *Scenario) ([]contacts.Option, error) {
	clock := testutil.NewDeterministicClock()
	opts := []contacts.Option{contacts.WithClock(clock.Now)}

	for _, path := range s.Views {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read views: %w", err)
		}
		views, err := schema.LoadCUE(data)
		if err != nil {
			return nil, fmt.Errorf("failed to load views from %s: %w", path, err)
		}
		opts = append(opts, contacts.WithViews(views...))
	}

	if len(s.Callers) > 0 {
		oracle := access.StaticOracle{}
		for label, names := range s.Callers {
			var caps access.Capability
			for _, n := range names {
				c, ok := access.ParseCapability(n)
				if !ok {
					return nil, fmt.Errorf("caller %q: unknown capability %q", label, n)
				}
				caps |= c
			}
			oracle[label] = caps
		}
		opts = append(opts, contacts.WithOracle(oracle))
	}
	if s.Admin != "" {
		opts = append(opts, contacts.WithAdmin(s.Admin))
	}
	return opts, nil
}

func (h *Harness) conn(ctx context.Context, label string) (*contacts.Conn, error) {
	if c, ok := h.conns[label]; ok {
		return c, nil
	}
	c, err := h.svc.Connect(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %q: %w", label, err)
	}
	h.conns[label] = c
	return c, nil
}

func (h *Harness) closeAll() {
	for _, c := range h.conns {
		c.Close()
	}
}

func (h *Harness) recordNotification(view string, _ int) {
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Seq:  h.seq.Next(),
		Type: EventNotify,
		View: view,
	})
}

// outcome is what a step produced.
type outcome struct {
	view     string
	value    any
	ids      []int
	records  []map[string]any
	snippets []string
	count    *int
}

func (h *Harness) runStep(ctx context.Context, n int, step *Step) error {
	c, err := h.conn(ctx, step.caller())
	if err != nil {
		return err
	}
	op := step.op()

	out, stepErr := h.perform(ctx, c, op, step)
	version, err := c.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}

	ev := TraceEvent{
		Seq:     h.seq.Next(),
		Type:    EventStep,
		Step:    n,
		As:      step.caller(),
		Op:      op,
		View:    out.view,
		Version: version,
		Result:  out.value,
	}
	if stepErr != nil {
		ev.Error = string(errs.CodeOf(stepErr))
		ev.Result = nil
	}
	h.result.Trace = append(h.result.Trace, ev)
	h.logger.Debug("step completed", "step", n, "op", op, "error", stepErr)

	for _, msg := range checkExpect(step.Expect, out, stepErr, version) {
		h.result.AddError(fmt.Sprintf("step %d (%s): %s", n, op, msg))
	}
	return nil
}

func (h *Harness) perform(ctx context.Context, c *contacts.Conn, op string, step *Step) (outcome, error) {
	reg := h.svc.Registry()
	switch op {
	case "insert":
		doc := querydoc.Records{Records: step.Insert}
		out := outcome{view: step.Insert[0].View}
		recs, err := doc.Build(h.svc.Factory())
		if err != nil {
			return out, err
		}
		ids, err := c.InsertList(ctx, recs)
		if err != nil {
			return out, err
		}
		out.ids, out.value = ids, ids
		return out, nil

	case "update":
		u := step.Update
		out := outcome{view: u.View}
		rec, err := c.Get(ctx, u.View, u.ID)
		if err != nil {
			return out, err
		}
		patch := querydoc.Record{View: u.View, Values: u.Values}
		if err := patch.Apply(rec); err != nil {
			return out, err
		}
		return out, c.Update(ctx, rec)

	case "delete":
		return outcome{view: step.Delete.View}, c.Delete(ctx, step.Delete.View, step.Delete.ID)

	case "get":
		out := outcome{view: step.Get.View}
		rec, err := c.Get(ctx, step.Get.View, step.Get.ID)
		if err != nil {
			return out, err
		}
		m := querydoc.ToMap(rec)
		out.records, out.value = []map[string]any{m}, m
		return out, nil

	case "query":
		return h.query(ctx, c, reg, step.Query)

	case "count":
		out := outcome{view: step.Count.View}
		q, err := step.Count.Build(reg)
		if err != nil {
			return out, err
		}
		defer q.Destroy()
		n, err := c.Count(ctx, q)
		if err != nil {
			return out, err
		}
		out.count, out.value = &n, n
		return out, nil

	case "changes":
		ch := step.Changes
		out := outcome{view: ch.View}
		feed, err := c.ChangesSince(ctx, ch.View, ch.AddressBook, ch.Since)
		if err != nil {
			return out, err
		}
		out.value = feed
		return out, nil

	case "begin":
		return outcome{}, c.Begin(ctx)
	case "commit":
		return outcome{}, c.End(ctx, true)
	case "rollback":
		return outcome{}, c.End(ctx, false)
	}
	return outcome{}, fmt.Errorf("unknown operation %q", op)
}

func (h *Harness) query(ctx context.Context, c *contacts.Conn, reg *schema.Registry, doc *querydoc.Query) (outcome, error) {
	out := outcome{view: doc.View}
	q, err := doc.Build(reg)
	if err != nil {
		return out, err
	}
	defer q.Destroy()

	keyword, opts, isSearch, err := doc.SearchOptions()
	if err != nil {
		return out, err
	}

	if isSearch {
		hits, err := c.Search(ctx, q, keyword, opts, doc.Offset, doc.Limit)
		if err != nil {
			return out, err
		}
		value := make([]map[string]any, len(hits))
		for i, hit := range hits {
			m := querydoc.ToMap(hit.Record)
			out.records = append(out.records, m)
			value[i] = map[string]any{"record": m}
			if opts.Snippet {
				out.snippets = append(out.snippets, hit.Snippet)
				value[i]["snippet"] = hit.Snippet
			}
		}
		n := len(hits)
		out.count, out.value = &n, value
		return out, nil
	}

	list, err := c.Query(ctx, q, doc.Offset, doc.Limit)
	if err != nil {
		return out, err
	}
	defer list.Destroy(true)
	out.records = recordMaps(list.Records())
	n := len(out.records)
	out.count, out.value = &n, out.records
	return out, nil
}

func recordMaps(recs []*record.Record) []map[string]any {
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = querydoc.ToMap(r)
	}
	return out
}
