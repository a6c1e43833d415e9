package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(New(TypeStatus, "hello"))
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeStatus || e.Payload != "hello" {
				t.Errorf("subscriber %d got %+v", i, e)
			}
			if e.ID == "" {
				t.Errorf("subscriber %d got event without id", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}

	unsub1()
	unsub1() // idempotent
	if got := b.Subscribers(); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(1)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(New(TypeProgress, 1))
	b.Publish(New(TypeProgress, 2)) // dropped, must not block

	e := <-ch
	if e.Payload != 1 {
		t.Errorf("payload = %v, want 1", e.Payload)
	}
	select {
	case e := <-ch:
		t.Errorf("expected dropped event, got %+v", e)
	default:
	}
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(0)
	ch, _ := b.Subscribe()
	b.Close()
	b.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	b.Publish(New(TypeStatus, nil))
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after Close should return a closed channel")
	}
}

func TestType_Valid(t *testing.T) {
	for _, typ := range []Type{TypeStatus, TypeProgress, TypeSubgraph, TypeSearchResults, TypeError} {
		if !typ.Valid() {
			t.Errorf("%q should be valid", typ)
		}
	}
	if Type("chat").Valid() {
		t.Error("unknown type should be invalid")
	}
}

type fakeRetriever struct {
	resp *models.RetrieveResponse
	err  error
	got  models.RetrieveQuery
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q models.RetrieveQuery) (*models.RetrieveResponse, error) {
	f.got = q
	return f.resp, f.err
}

type fakeGraph struct {
	seeds   []string
	depth   int
	cleared bool
}

func (f *fakeGraph) Subgraph(seeds []string, depth int) models.GraphSnapshot {
	f.seeds, f.depth = seeds, depth
	return models.NewSnapshot([]models.Node{{ID: "n1", Label: "N1", Type: models.NodeTypeEntity}}, nil)
}

func (f *fakeGraph) ClearPresentation() { f.cleared = true }

func collect() (*[]Event, Publisher) {
	var got []Event
	return &got, PublisherFunc(func(e Event) { got = append(got, e) })
}

func TestDispatcher_Commands(t *testing.T) {
	ctx := context.Background()
	sub := &models.GraphSnapshot{}
	retr := &fakeRetriever{resp: &models.RetrieveResponse{Query: "auth", Subgraph: sub}}
	g := &fakeGraph{}
	status := func() StatusPayload { return StatusPayload{Nodes: 3, Edges: 2} }

	tests := []struct {
		name      string
		cmd       Command
		wantTypes []Type
	}{
		{"search", Command{Type: CommandSearch, Query: &models.RetrieveQuery{Query: "auth"}}, []Type{TypeSearchResults, TypeSubgraph}},
		{"load subgraph", Command{Type: CommandLoadSubgraph, Seeds: []string{"n1"}, Depth: 2}, []Type{TypeSubgraph}},
		{"refresh", Command{Type: CommandRefresh}, []Type{TypeStatus, TypeSubgraph}},
		{"reset", Command{Type: CommandReset}, []Type{TypeStatus, TypeSubgraph}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			published, pub := collect()
			d := NewDispatcher(retr, g, pub, WithStatus(status))
			out, err := d.Dispatch(ctx, tt.cmd)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if len(out) != len(tt.wantTypes) {
				t.Fatalf("got %d events, want %d", len(out), len(tt.wantTypes))
			}
			for i, e := range out {
				if e.Type != tt.wantTypes[i] {
					t.Errorf("event %d type = %q, want %q", i, e.Type, tt.wantTypes[i])
				}
			}
			if len(*published) != len(out) {
				t.Errorf("published %d events, returned %d", len(*published), len(out))
			}
		})
	}

	if retr.got.Query != "auth" {
		t.Errorf("retriever got query %q", retr.got.Query)
	}
	if !g.cleared {
		t.Error("reset should clear presentation state")
	}
}

func TestDispatcher_LoadSubgraphPassesSeeds(t *testing.T) {
	g := &fakeGraph{}
	d := NewDispatcher(nil, g, nil)
	if _, err := d.Dispatch(context.Background(), Command{Type: CommandLoadSubgraph, Seeds: []string{"a", "b"}, Depth: 3}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(g.seeds) != 2 || g.depth != 3 {
		t.Errorf("Subgraph called with %v, %d", g.seeds, g.depth)
	}
}

func TestDispatcher_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name           string
		retr           Retriever
		cmd            Command
		wantValidation bool
	}{
		{"unknown command", nil, Command{Type: "explode"}, true},
		{"search without query", nil, Command{Type: CommandSearch}, true},
		{"negative depth", nil, Command{Type: CommandLoadSubgraph, Depth: -1}, true},
		{"retriever failure", &fakeRetriever{err: errors.New("index closed")}, Command{Type: CommandSearch, Query: &models.RetrieveQuery{Query: "x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			published, pub := collect()
			d := NewDispatcher(tt.retr, &fakeGraph{}, pub)
			out, err := d.Dispatch(ctx, tt.cmd)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := models.IsValidation(err); got != tt.wantValidation {
				t.Errorf("IsValidation = %v, want %v (%v)", got, tt.wantValidation, err)
			}
			if len(out) != 1 || out[0].Type != TypeError {
				t.Fatalf("expected a single error event, got %+v", out)
			}
			if len(*published) != 1 {
				t.Errorf("expected the error event to be published")
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	c, err := DecodeCommand([]byte(`{"type":"load-subgraph","seeds":["x"],"depth":1}`))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if c.Type != CommandLoadSubgraph || len(c.Seeds) != 1 || c.Depth != 1 {
		t.Errorf("decoded %+v", c)
	}
	if _, err := DecodeCommand([]byte(`{"type":`)); !models.IsValidation(err) {
		t.Errorf("malformed JSON should be a validation error, got %v", err)
	}
}
